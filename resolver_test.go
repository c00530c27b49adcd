package cogserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPattern(t *testing.T, w, h, bands, tile int, opts ...Option) (*Dataset, *patternSource) {
	t.Helper()
	src := newPatternSource(w, h, bands)
	ds, err := Open(src, append([]Option{TileSize(tile, tile)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return ds, src
}

func readRange(t *testing.T, ds *Dataset, start, end int64) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	n, err := ds.WriteRange(context.Background(), buf, ByteRange{Start: start, End: end})
	require.NoError(t, err)
	require.Equal(t, end-start, n)
	return buf.Bytes()
}

func TestResolveBoundaries(t *testing.T) {
	ds, _ := openPattern(t, 1000, 1000, 1, 256)
	l := ds.Layout()

	testfunc := func(r ByteRange, want []FetchInstruction) {
		t.Helper()
		got, err := ds.Resolve(r)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("resolve [%d,%d) mismatch (-want +got):\n%s", r.Start, r.End, diff)
		}
		sum := int64(0)
		for _, ins := range got {
			sum += ins.Length
		}
		assert.Equal(t, r.Len(), sum)
	}

	header := Segment{Kind: SegmentHeader}
	dir := Segment{Kind: SegmentDirectory}
	tile := func(i int) Segment { return Segment{Kind: SegmentTile, Tile: i} }

	// the header is only 8 bytes: the first 100 bytes spill into the directory
	testfunc(ByteRange{0, 100}, []FetchInstruction{
		{Segment: header, Offset: 0, Length: 8},
		{Segment: dir, Offset: 0, Length: 92},
	})
	testfunc(ByteRange{2, 6}, []FetchInstruction{{Segment: header, Offset: 2, Length: 4}})
	testfunc(ByteRange{l.DataOffset - 10, l.DataOffset + 10}, []FetchInstruction{
		{Segment: dir, Offset: l.DirectoryLength - 10, Length: 10},
		{Segment: tile(0), Offset: 0, Length: 10},
	})
	slot := l.Tiles[5]
	testfunc(ByteRange{slot.Offset - 1, slot.Offset + slot.Length + 1}, []FetchInstruction{
		{Segment: tile(4), Offset: slot.Length - 1, Length: 1},
		{Segment: tile(5), Offset: 0, Length: slot.Length},
		{Segment: tile(6), Offset: 0, Length: 1},
	})
	testfunc(ByteRange{l.TotalLength - 1, l.TotalLength}, []FetchInstruction{
		{Segment: tile(15), Offset: slot.Length - 1, Length: 1},
	})
}

func TestResolveInvalid(t *testing.T) {
	ds, _ := openPattern(t, 100, 100, 1, 64)
	size := ds.Size()
	for _, r := range []ByteRange{{-1, 10}, {10, 10}, {10, 5}} {
		_, err := ds.Resolve(r)
		assert.True(t, errors.Is(err, ErrInvalidRange), "%v", r)
	}
	for _, r := range []ByteRange{{0, size + 1}, {size, size + 1}} {
		_, err := ds.Resolve(r)
		assert.True(t, errors.Is(err, ErrOutOfBounds), "%v", r)
	}
}

func TestFullRangeRoundTrip(t *testing.T) {
	ds, _ := openPattern(t, 1000, 1000, 1, 256)
	l := ds.Layout()
	full := readRange(t, ds, 0, ds.Size())
	require.Len(t, full, int(l.TotalLength))

	expected := append(l.Header(), l.Directory()...)
	for i := range l.Tiles {
		p, err := ds.TilePayload(context.Background(), i)
		require.NoError(t, err)
		expected = append(expected, p...)
	}
	assert.True(t, bytes.Equal(expected, full))

	// idempotence
	assert.True(t, bytes.Equal(full, readRange(t, ds, 0, ds.Size())))
}

func TestTileContent(t *testing.T) {
	ds, _ := openPattern(t, 1000, 1000, 1, 256)
	l := ds.Layout()

	// tile 3 is clipped horizontally, tile 12 vertically
	for _, idx := range []int{0, 3, 12, 15} {
		win := ds.Metadata().Window(idx)
		slot := l.Tiles[idx]
		p := readRange(t, ds, slot.Offset, slot.Offset+slot.Length)
		require.Len(t, p, 65536)
		for y := 0; y < 256; y++ {
			for x := 0; x < 256; x++ {
				var want byte
				if x < win.Width && y < win.Height {
					want = patternValue(win.X+x, win.Y+y, 0)
				}
				if p[y*256+x] != want {
					t.Fatalf("tile %d pixel %d,%d: got %d want %d", idx, x, y, p[y*256+x], want)
				}
			}
		}
	}
	assert.Equal(t, 232, ds.Metadata().Window(3).Width)
	assert.Equal(t, 232, ds.Metadata().Window(12).Height)
}

func TestInTileRange(t *testing.T) {
	ds, _ := openPattern(t, 1000, 1000, 3, 256)
	slot := ds.Layout().Tiles[6]
	payload, err := ds.TilePayload(context.Background(), 6)
	require.NoError(t, err)

	got := readRange(t, ds, slot.Offset+1000, slot.Offset+5000)
	assert.Equal(t, payload[1000:5000], got)
}

func TestConcurrentExecution(t *testing.T) {
	serial, _ := openPattern(t, 900, 700, 2, 128)
	parallel, _ := openPattern(t, 900, 700, 2, 128, Concurrency(8))
	require.Equal(t, serial.Size(), parallel.Size())

	size := serial.Size()
	ranges := []ByteRange{{0, size}, {100, size - 100}, {size / 3, size / 2}}
	for _, r := range ranges {
		assert.True(t, bytes.Equal(
			readRange(t, serial, r.Start, r.End),
			readRange(t, parallel, r.Start, r.End)), "%v", r)
	}
}

func TestPayloadLengthMismatch(t *testing.T) {
	src := newPatternSource(100, 100, 1)
	ds, err := Open(src, TileSize(64, 64), WithEncoder(func(m RasterMetadata) TileEncoder {
		return shortEncoder{IdentityEncoder(m)}
	}))
	require.NoError(t, err)
	defer ds.Close()

	l := ds.Layout()
	_, err = ds.WriteRange(context.Background(), io.Discard, ByteRange{l.DataOffset, l.DataOffset + 10})
	assert.True(t, errors.Is(err, ErrPayloadLength), "%v", err)

	// header and directory do not need tiles
	_, err = ds.WriteRange(context.Background(), io.Discard, ByteRange{0, l.DataOffset})
	assert.NoError(t, err)
}

func TestSourceError(t *testing.T) {
	ds, src := openPattern(t, 100, 100, 1, 64)
	src.fail = errBroken
	l := ds.Layout()
	_, err := ds.WriteRange(context.Background(), io.Discard, ByteRange{l.DataOffset, l.TotalLength})
	assert.True(t, errors.Is(err, errBroken), "%v", err)
}

func TestExecuteCancelled(t *testing.T) {
	ds, src := openPattern(t, 1000, 1000, 1, 256)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := ds.WriteRange(ctx, io.Discard, ByteRange{0, ds.Size()})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, n)
	assert.Zero(t, src.reads.Load())
}

func TestReadAt(t *testing.T) {
	ds, _ := openPattern(t, 100, 100, 1, 64)
	size := ds.Size()
	full := readRange(t, ds, 0, size)

	buf := make([]byte, 50)
	n, err := ds.ReadAt(buf, 10)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	assert.Equal(t, full[10:60], buf)

	n, err = ds.ReadAt(buf, size-20)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 20, n)
	assert.Equal(t, full[size-20:], buf[:20])

	_, err = ds.ReadAt(buf, size)
	assert.Equal(t, io.EOF, err)
}
