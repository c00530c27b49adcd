package cogserver

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// TileWindow is the raster area read for one tile. X, Y, Width and Height
// are clipped to the raster extent, TileWidth and TileHeight are the nominal
// tile dimensions which define the line stride of the tile buffer.
type TileWindow struct {
	Index                 int
	Col, Row              int
	X, Y                  int
	Width, Height         int
	TileWidth, TileHeight int
}

// Edge reports whether the window is clipped by the raster extent.
func (w TileWindow) Edge() bool {
	return w.Width < w.TileWidth || w.Height < w.TileHeight
}

// RasterSource delivers the pixels of a raster.
//
// ReadTile fills buf with the pixel-interleaved, little endian samples of
// win. buf holds TileWidth*TileHeight pixels with a line stride of TileWidth
// pixels. It is zeroed before the call and pixels outside of the
// Width*Height area must be left untouched, so that edge tiles are padded
// with zeros. Errors should wrap ErrSourceUnavailable or ErrUnsupportedFormat.
//
// ReadTile may be called concurrently. Sources that cannot handle this must
// serialize access themselves.
type RasterSource interface {
	Metadata() RasterMetadata
	ReadTile(ctx context.Context, win TileWindow, buf []byte) error
}

// CopyWindow copies a dense, pixel-interleaved block of win.Width*win.Height
// pixels into the tile buffer of win.
func CopyWindow(dst []byte, src []byte, win TileWindow, pixelSize int) {
	if !win.Edge() {
		copy(dst, src[:win.Width*win.Height*pixelSize])
		return
	}
	rowBytes := win.Width * pixelSize
	stride := win.TileWidth * pixelSize
	for y := 0; y < win.Height; y++ {
		copy(dst[y*stride:y*stride+rowBytes], src[y*rowBytes:(y+1)*rowBytes])
	}
}

type constantSource struct {
	meta  RasterMetadata
	pixel []byte
}

// NewConstantSource returns a source where every pixel has the given band
// values. Missing values are 0.
func NewConstantSource(meta RasterMetadata, values ...float64) (RasterSource, error) {
	if meta.Bands <= 0 || meta.DataType.Size() == 0 {
		return nil, fmt.Errorf("%w: %d bands of %v", ErrInvalidMetadata, meta.Bands, meta.DataType)
	}
	if len(values) > meta.Bands {
		return nil, fmt.Errorf("%w: %d values for %d bands", ErrInvalidMetadata, len(values), meta.Bands)
	}
	size := meta.DataType.Size()
	pixel := make([]byte, meta.Bands*size)
	for b, v := range values {
		putSample(pixel[b*size:], meta.DataType, v)
	}
	return &constantSource{meta: meta, pixel: pixel}, nil
}

// DummySource is the 3000x2000 yellow RGB test raster.
func DummySource() RasterSource {
	src, _ := NewConstantSource(RasterMetadata{
		Width:       3000,
		Height:      2000,
		Bands:       3,
		DataType:    Byte,
		Photometric: PhotometricInterpretationRGB,
	}, 255, 255, 0)
	return src
}

func (s *constantSource) Metadata() RasterMetadata {
	return s.meta
}

func (s *constantSource) ReadTile(ctx context.Context, win TileWindow, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ps := len(s.pixel)
	stride := win.TileWidth * ps
	for y := 0; y < win.Height; y++ {
		row := buf[y*stride : y*stride+win.Width*ps]
		for x := 0; x < len(row); x += ps {
			copy(row[x:], s.pixel)
		}
	}
	return nil
}

// putSample encodes v as a little endian sample of type dt. Complex types
// get v as their real part.
func putSample(buf []byte, dt DataType, v float64) {
	le := binary.LittleEndian
	switch dt {
	case Byte:
		buf[0] = uint8(v)
	case UInt16:
		le.PutUint16(buf, uint16(v))
	case Int16, CInt16:
		le.PutUint16(buf, uint16(int16(v)))
	case UInt32:
		le.PutUint32(buf, uint32(v))
	case Int32, CInt32:
		le.PutUint32(buf, uint32(int32(v)))
	case Float32, CFloat32:
		le.PutUint32(buf, math.Float32bits(float32(v)))
	case Float64, CFloat64:
		le.PutUint64(buf, math.Float64bits(v))
	}
}
