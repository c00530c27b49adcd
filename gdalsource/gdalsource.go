// Package gdalsource reads rasters through GDAL, giving access to every
// format and virtual filesystem GDAL knows about.
package gdalsource

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/airbusgeo/cogserver"
	"github.com/airbusgeo/godal"
)

// Source is a cogserver.RasterSource backed by a GDAL dataset. GDAL datasets
// are not safe for concurrent use, reads are serialized.
type Source struct {
	mu    sync.Mutex
	ds    *godal.Dataset
	owned bool
	meta  cogserver.RasterMetadata
}

type options struct {
	open   []string
	config []string
}

type Option func(o *options)

// OpenOptions are driver specific open options, as KEY=VALUE strings.
func OpenOptions(keyvals ...string) Option {
	return func(o *options) {
		o.open = append(o.open, keyvals...)
	}
}

// ConfigOptions are GDAL configuration options applied while opening, as
// KEY=VALUE strings.
func ConfigOptions(keyvals ...string) Option {
	return func(o *options) {
		o.config = append(o.config, keyvals...)
	}
}

// Open opens the raster at name. Drivers must have been registered with
// godal beforehand.
func Open(name string, opts ...Option) (*Source, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	gopts := []godal.OpenOption{godal.RasterOnly()}
	if len(o.open) > 0 {
		gopts = append(gopts, godal.DriverOpenOption(o.open...))
	}
	if len(o.config) > 0 {
		gopts = append(gopts, godal.ConfigOption(o.config...))
	}
	ds, err := godal.Open(name, gopts...)
	if err != nil {
		return nil, fmt.Errorf("%w: godal.open %s: %v", cogserver.ErrSourceUnavailable, name, err)
	}
	src, err := New(ds)
	if err != nil {
		ds.Close()
		return nil, err
	}
	src.owned = true
	return src, nil
}

// New wraps an already opened dataset. The dataset is not closed by Close.
func New(ds *godal.Dataset) (*Source, error) {
	st := ds.Structure()
	dt, err := dataType(st.DataType)
	if err != nil {
		return nil, err
	}
	meta := cogserver.RasterMetadata{
		Width:       st.SizeX,
		Height:      st.SizeY,
		Bands:       st.NBands,
		DataType:    dt,
		Photometric: cogserver.PhotometricInterpretationMinIsBlack,
	}
	bands := ds.Bands()
	color := 1
	if len(bands) >= 3 && bands[0].ColorInterp() == godal.CIRed {
		meta.Photometric = cogserver.PhotometricInterpretationRGB
		color = 3
	}
	if len(bands) > color && bands[color].ColorInterp() == godal.CIAlpha {
		meta.Alpha = true
	}
	return &Source{ds: ds, meta: meta}, nil
}

func dataType(dt godal.DataType) (cogserver.DataType, error) {
	switch dt {
	case godal.Byte:
		return cogserver.Byte, nil
	case godal.UInt16:
		return cogserver.UInt16, nil
	case godal.Int16:
		return cogserver.Int16, nil
	case godal.UInt32:
		return cogserver.UInt32, nil
	case godal.Int32:
		return cogserver.Int32, nil
	case godal.Float32:
		return cogserver.Float32, nil
	case godal.Float64:
		return cogserver.Float64, nil
	case godal.CFloat32:
		return cogserver.CFloat32, nil
	case godal.CFloat64:
		return cogserver.CFloat64, nil
	}
	// complex integer samples have no go buffer type in godal
	return cogserver.Unknown, fmt.Errorf("%w: gdal data type %v", cogserver.ErrUnsupportedFormat, dt)
}

func (s *Source) Metadata() cogserver.RasterMetadata {
	return s.meta
}

// buffer allocates a typed buffer for n samples.
func (s *Source) buffer(n int) interface{} {
	switch s.meta.DataType {
	case cogserver.UInt16:
		return make([]uint16, n)
	case cogserver.Int16:
		return make([]int16, n)
	case cogserver.UInt32:
		return make([]uint32, n)
	case cogserver.Int32:
		return make([]int32, n)
	case cogserver.Float32:
		return make([]float32, n)
	case cogserver.Float64:
		return make([]float64, n)
	case cogserver.CFloat32:
		return make([]complex64, n)
	case cogserver.CFloat64:
		return make([]complex128, n)
	default:
		return make([]byte, n)
	}
}

func (s *Source) ReadTile(ctx context.Context, win cogserver.TileWindow, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := win.Width * win.Height * s.meta.Bands
	samples := s.buffer(n)

	s.mu.Lock()
	err := s.ds.Read(win.X, win.Y, samples, win.Width, win.Height)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: read %dx%d+%d+%d: %v", cogserver.ErrSourceUnavailable,
			win.Width, win.Height, win.X, win.Y, err)
	}

	dense, ok := samples.([]byte)
	if !ok {
		bb := bytes.NewBuffer(make([]byte, 0, n*s.meta.DataType.Size()))
		if err := binary.Write(bb, binary.LittleEndian, samples); err != nil {
			return fmt.Errorf("encode samples: %w", err)
		}
		dense = bb.Bytes()
	}
	cogserver.CopyWindow(buf, dense, win, s.meta.PixelSize())
	return nil
}

// Close closes the underlying dataset if it was opened by Open.
func (s *Source) Close() error {
	if !s.owned {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ds.Close()
}
