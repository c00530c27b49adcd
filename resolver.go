package cogserver

import (
	"context"
	"fmt"
	"io"

	"github.com/tbonfort/gobs"
)

// ByteRange is the half-open range [Start,End) of the virtual file.
type ByteRange struct {
	Start, End int64
}

func (r ByteRange) Len() int64 {
	return r.End - r.Start
}

// FetchInstruction is the part of a segment needed to serve a range.
// Offset is relative to the start of the segment.
type FetchInstruction struct {
	Segment Segment
	Offset  int64
	Length  int64
}

// TileProducer returns the encoded payload of a tile. The returned slice is
// only read.
type TileProducer interface {
	TilePayload(ctx context.Context, index int) ([]byte, error)
}

// Resolver turns byte ranges of the virtual file into fetch instructions and
// executes them.
type Resolver struct {
	layout      *Layout
	index       *Index
	tiles       TileProducer
	pool        *gobs.Pool
	concurrency int
}

// NewResolver creates a resolver over l. Up to concurrency tile payloads of a
// single range are produced in parallel, concurrency also bounds the number
// of tiles produced at once across all executions of this resolver.
func NewResolver(l *Layout, tiles TileProducer, concurrency int) *Resolver {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Resolver{
		layout:      l,
		index:       NewIndex(l),
		tiles:       tiles,
		pool:        gobs.NewPool(concurrency),
		concurrency: concurrency,
	}
}

// Resolve returns the ordered instructions covering r. The lengths of the
// instructions add up to r.Len().
func (rs *Resolver) Resolve(r ByteRange) ([]FetchInstruction, error) {
	if r.Start < 0 || r.End <= r.Start {
		return nil, fmt.Errorf("%w: [%d,%d)", ErrInvalidRange, r.Start, r.End)
	}
	if r.End > rs.layout.TotalLength {
		return nil, fmt.Errorf("%w: range end %d, size %d", ErrOutOfBounds, r.End, rs.layout.TotalLength)
	}
	var instrs []FetchInstruction
	for cursor := r.Start; cursor < r.End; {
		seg, local, err := rs.index.Locate(cursor)
		if err != nil {
			return nil, err
		}
		segStart, segLength, err := rs.index.Bounds(seg)
		if err != nil {
			return nil, err
		}
		n := min(segStart+segLength, r.End) - cursor
		instrs = append(instrs, FetchInstruction{Segment: seg, Offset: local, Length: n})
		cursor += n
	}
	return instrs, nil
}

// Execute writes the bytes of instrs to w, in order. It returns the number
// of bytes written. Tile payloads are produced ahead of the writes, by
// batches of at most the resolver concurrency.
func (rs *Resolver) Execute(ctx context.Context, w io.Writer, instrs []FetchInstruction) (int64, error) {
	var written int64
	for i := 0; i < len(instrs); {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if instrs[i].Segment.Kind != SegmentTile {
			n, err := w.Write(rs.static(instrs[i]))
			written += int64(n)
			if err != nil {
				return written, err
			}
			i++
			continue
		}
		end := i + 1
		for end < len(instrs) && end-i < rs.concurrency && instrs[end].Segment.Kind == SegmentTile {
			end++
		}
		payloads, err := rs.produce(ctx, instrs[i:end])
		if err != nil {
			return written, err
		}
		for j, p := range payloads {
			ins := instrs[i+j]
			n, err := w.Write(p[ins.Offset : ins.Offset+ins.Length])
			written += int64(n)
			if err != nil {
				return written, err
			}
		}
		i = end
	}
	return written, nil
}

// static returns the header or directory bytes of ins.
func (rs *Resolver) static(ins FetchInstruction) []byte {
	buf := make([]byte, ins.Length)
	if ins.Segment.Kind == SegmentHeader {
		rs.layout.readHeader(buf, ins.Offset)
	} else {
		rs.layout.readDirectory(buf, ins.Offset)
	}
	return buf
}

func (rs *Resolver) produce(ctx context.Context, instrs []FetchInstruction) ([][]byte, error) {
	payloads := make([][]byte, len(instrs))
	get := func(j int) error {
		p, err := rs.tiles.TilePayload(ctx, instrs[j].Segment.Tile)
		if err != nil {
			return err
		}
		if int64(len(p)) < instrs[j].Offset+instrs[j].Length {
			return fmt.Errorf("%w: tile %d has %d bytes", ErrPayloadLength, instrs[j].Segment.Tile, len(p))
		}
		payloads[j] = p
		return nil
	}
	if len(instrs) == 1 {
		return payloads, get(0)
	}
	batch := rs.pool.Batch()
	for j := range instrs {
		j := j
		batch.Submit(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return get(j)
		})
	}
	if err := batch.Wait(); err != nil {
		return nil, err
	}
	return payloads, nil
}

// ReadAt implements io.ReaderAt over the virtual file.
func (rs *Resolver) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: offset %d", ErrInvalidRange, off)
	}
	if off >= rs.layout.TotalLength {
		return 0, io.EOF
	}
	end := min(off+int64(len(p)), rs.layout.TotalLength)
	if end == off {
		return 0, nil
	}
	instrs, err := rs.Resolve(ByteRange{Start: off, End: end})
	if err != nil {
		return 0, err
	}
	n, err := rs.Execute(context.Background(), &sliceWriter{buf: p}, instrs)
	if err != nil {
		return int(n), err
	}
	if end-off < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

type sliceWriter struct {
	buf []byte
	off int
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[w.off:], p)
	w.off += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}
