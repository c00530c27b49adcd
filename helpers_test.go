package cogserver

import (
	"context"
	"errors"
	"sync/atomic"
)

// patternSource returns byte samples that depend on the pixel position and
// the band, so that misplaced bytes are detected.
type patternSource struct {
	meta  RasterMetadata
	reads atomic.Int64
	// reads given up on a cancelled context
	abandoned atomic.Int64
	fail      error
	block     chan struct{}
}

func newPatternSource(width, height, bands int) *patternSource {
	return &patternSource{meta: RasterMetadata{
		Width:       width,
		Height:      height,
		Bands:       bands,
		DataType:    Byte,
		Photometric: PhotometricInterpretationMinIsBlack,
	}}
}

func patternValue(x, y, b int) byte {
	return byte((x + 3*y + 7*b) % 251)
}

func (s *patternSource) Metadata() RasterMetadata {
	return s.meta
}

func (s *patternSource) ReadTile(ctx context.Context, win TileWindow, buf []byte) error {
	s.reads.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			s.abandoned.Add(1)
			return ctx.Err()
		}
	}
	if s.fail != nil {
		return s.fail
	}
	nb := s.meta.Bands
	for y := 0; y < win.Height; y++ {
		for x := 0; x < win.Width; x++ {
			for b := 0; b < nb; b++ {
				buf[(y*win.TileWidth+x)*nb+b] = patternValue(win.X+x, win.Y+y, b)
			}
		}
	}
	return nil
}

var errBroken = errors.New("broken disk")

// shortEncoder announces one more byte than it produces.
type shortEncoder struct {
	TileEncoder
}

func (e shortEncoder) PayloadLength(index int) int64 {
	return e.TileEncoder.PayloadLength(index) + 1
}
