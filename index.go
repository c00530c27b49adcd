package cogserver

import (
	"fmt"
	"sort"
)

type SegmentKind int

const (
	SegmentHeader SegmentKind = iota
	SegmentDirectory
	SegmentTile
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentHeader:
		return "header"
	case SegmentDirectory:
		return "directory"
	case SegmentTile:
		return "tile"
	default:
		return fmt.Sprintf("SegmentKind(%d)", int(k))
	}
}

// Segment is a contiguous region of the virtual file. Tile is only meaningful
// for SegmentTile.
type Segment struct {
	Kind SegmentKind
	Tile int
}

func (s Segment) String() string {
	if s.Kind == SegmentTile {
		return fmt.Sprintf("tile %d", s.Tile)
	}
	return s.Kind.String()
}

// Extent is a segment with its absolute position.
type Extent struct {
	Segment
	Offset int64
	Length int64
}

// Index maps absolute offsets of the virtual file to segments.
type Index struct {
	layout *Layout
}

func NewIndex(l *Layout) *Index {
	return &Index{layout: l}
}

// Locate returns the segment containing off and the offset of off within
// that segment.
func (ix *Index) Locate(off int64) (Segment, int64, error) {
	l := ix.layout
	if off < 0 || off >= l.TotalLength {
		return Segment{}, 0, fmt.Errorf("%w: offset %d, size %d", ErrOutOfBounds, off, l.TotalLength)
	}
	if off < l.HeaderLength {
		return Segment{Kind: SegmentHeader}, off, nil
	}
	if off < l.DataOffset {
		return Segment{Kind: SegmentDirectory}, off - l.DirectoryOffset, nil
	}
	// first slot ending after off
	i := sort.Search(len(l.Tiles), func(i int) bool {
		return l.Tiles[i].Offset+l.Tiles[i].Length > off
	})
	slot := l.Tiles[i]
	return Segment{Kind: SegmentTile, Tile: slot.Index}, off - slot.Offset, nil
}

// Bounds returns the absolute offset and length of seg.
func (ix *Index) Bounds(seg Segment) (int64, int64, error) {
	l := ix.layout
	switch seg.Kind {
	case SegmentHeader:
		return 0, l.HeaderLength, nil
	case SegmentDirectory:
		return l.DirectoryOffset, l.DirectoryLength, nil
	case SegmentTile:
		if seg.Tile < 0 || seg.Tile >= len(l.Tiles) {
			return 0, 0, fmt.Errorf("%w: tile %d of %d", ErrOutOfBounds, seg.Tile, len(l.Tiles))
		}
		return l.Tiles[seg.Tile].Offset, l.Tiles[seg.Tile].Length, nil
	}
	return 0, 0, fmt.Errorf("unknown segment kind %v", seg.Kind)
}

// Segments lists every segment of the virtual file in file order.
func (ix *Index) Segments() []Extent {
	l := ix.layout
	ext := make([]Extent, 0, 2+len(l.Tiles))
	ext = append(ext,
		Extent{Segment: Segment{Kind: SegmentHeader}, Offset: 0, Length: l.HeaderLength},
		Extent{Segment: Segment{Kind: SegmentDirectory}, Offset: l.DirectoryOffset, Length: l.DirectoryLength},
	)
	for _, t := range l.Tiles {
		ext = append(ext, Extent{Segment: Segment{Kind: SegmentTile, Tile: t.Index}, Offset: t.Offset, Length: t.Length})
	}
	return ext
}
