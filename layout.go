package cogserver

import (
	"bytes"
	"fmt"
	"math"
)

// TileSlot is the position of a tile payload in the virtual file.
type TileSlot struct {
	Index  int
	Offset int64
	Length int64
}

// Layout is the byte layout of a virtual COG: a header, a single directory
// (entry table, overflow values and tile index arrays), then the tile
// payloads in row-major order.
type Layout struct {
	HeaderLength    int64
	DirectoryOffset int64
	DirectoryLength int64
	DataOffset      int64
	Tiles           []TileSlot
	TotalLength     int64

	BigTIFF                bool
	TilesAcross, TilesDown int

	cog    *cog
	header []byte
	// entry table and overflow area; tile index arrays follow and are
	// generated on demand
	ifd []byte
}

// Plan computes the layout of meta with payload lengths given by encoder. A
// BigTIFF container is used when the file would not be addressable with
// 32-bit offsets.
func Plan(meta RasterMetadata, encoder TileEncoder) (*Layout, error) {
	return plan(meta, encoder, false)
}

// PlanBigTIFF is Plan with a BigTIFF container whatever the file size.
func PlanBigTIFF(meta RasterMetadata, encoder TileEncoder) (*Layout, error) {
	return plan(meta, encoder, true)
}

func plan(meta RasterMetadata, encoder TileEncoder, bigtiff bool) (*Layout, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	c := newCOG(meta, encoder.Compression(), bigtiff)
	l := &Layout{
		HeaderLength: int64(c.headerSize()),
		BigTIFF:      bigtiff,
		TilesAcross:  meta.TilesAcross(),
		TilesDown:    meta.TilesDown(),
		cog:          c,
	}
	l.DirectoryOffset = l.HeaderLength
	l.DirectoryLength = int64(c.ifd.tagsSize + c.ifd.strileSize)
	l.DataOffset = l.DirectoryOffset + l.DirectoryLength

	ntiles := meta.TileCount()
	l.Tiles = make([]TileSlot, ntiles)
	off := l.DataOffset
	for i := 0; i < ntiles; i++ {
		length := encoder.PayloadLength(i)
		if length <= 0 {
			return nil, fmt.Errorf("%w: tile %d has payload length %d", ErrInvalidMetadata, i, length)
		}
		l.Tiles[i] = TileSlot{Index: i, Offset: off, Length: length}
		if off > math.MaxInt64-length {
			return nil, fmt.Errorf("%w: virtual file too large", ErrInvalidMetadata)
		}
		off += length
		if !bigtiff && off > math.MaxUint32 {
			//rerun with bigtiff support
			return plan(meta, encoder, true)
		}
	}
	l.TotalLength = off

	hdr := &bytes.Buffer{}
	if err := c.writeHeader(hdr); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	l.header = hdr.Bytes()

	dir := &bytes.Buffer{}
	strileOffset := uint64(l.DirectoryOffset) + c.ifd.tagsSize
	if err := c.writeIFD(dir, uint64(l.DirectoryOffset), strileOffset, l.Tiles[0]); err != nil {
		return nil, fmt.Errorf("write ifd: %w", err)
	}
	if uint64(dir.Len()) != c.ifd.tagsSize {
		return nil, fmt.Errorf("bug: ifd size %d, expected %d", dir.Len(), c.ifd.tagsSize)
	}
	l.ifd = dir.Bytes()
	return l, nil
}

// readHeader fills p with header bytes starting at local offset off.
func (l *Layout) readHeader(p []byte, off int64) {
	copy(p, l.header[off:])
}

// readDirectory fills p with directory bytes starting at local offset off.
// Only the tile index elements overlapping p are encoded.
func (l *Layout) readDirectory(p []byte, off int64) {
	if off < int64(len(l.ifd)) {
		n := copy(p, l.ifd[off:])
		p = p[n:]
		off += int64(n)
	}
	w := int64(l.cog.strileWidth())
	ntiles := int64(len(l.Tiles))
	s := off - int64(len(l.ifd))
	var elem [8]byte
	for len(p) > 0 {
		i := s / w
		var v int64
		if i < ntiles {
			v = l.Tiles[i].Offset
		} else {
			v = l.Tiles[i-ntiles].Length
		}
		l.cog.putStrile(elem[:], uint64(v))
		n := copy(p, elem[s%w:w])
		p = p[n:]
		s += int64(n)
	}
}

// Directory returns the complete directory segment.
func (l *Layout) Directory() []byte {
	buf := make([]byte, l.DirectoryLength)
	l.readDirectory(buf, 0)
	return buf
}

// Header returns the header segment.
func (l *Layout) Header() []byte {
	return append([]byte(nil), l.header...)
}
