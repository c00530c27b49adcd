// Package tiffsource reads pixels straight out of an existing tiled,
// uncompressed, pixel-interleaved TIFF or BigTIFF file.
package tiffsource

import (
	"context"
	"fmt"
	"io"

	"github.com/airbusgeo/cogserver"
	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
)

type ifd struct {
	SubfileType               uint32   `tiff:"field,tag=254"`
	ImageWidth                uint64   `tiff:"field,tag=256"`
	ImageLength               uint64   `tiff:"field,tag=257"`
	BitsPerSample             []uint16 `tiff:"field,tag=258"`
	Compression               uint16   `tiff:"field,tag=259"`
	PhotometricInterpretation uint16   `tiff:"field,tag=262"`
	SamplesPerPixel           uint16   `tiff:"field,tag=277"`
	PlanarConfiguration       uint16   `tiff:"field,tag=284"`
	TileWidth                 uint16   `tiff:"field,tag=322"`
	TileLength                uint16   `tiff:"field,tag=323"`
	TileOffsets               []uint64 `tiff:"field,tag=324"`
	TileByteCounts            []uint64 `tiff:"field,tag=325"`
	ExtraSamples              []uint16 `tiff:"field,tag=338"`
	SampleFormat              []uint16 `tiff:"field,tag=339"`
}

// Source is a cogserver.RasterSource reading the full resolution image of a
// TIFF file. It only issues ReadAt calls and is safe for concurrent use if r
// is.
type Source struct {
	r         io.ReaderAt
	ifd       *ifd
	meta      cogserver.RasterMetadata
	bigEndian bool
	tilesX    int
}

// Open parses the TIFF structure of r.
func Open(r tiff.ReadAtReadSeeker) (*Source, error) {
	tif, err := tiff.Parse(r, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: parse tiff: %v", cogserver.ErrUnsupportedFormat, err)
	}
	order := tif.Order()
	if order != "MM" && order != "II" {
		return nil, fmt.Errorf("%w: unknown byte order", cogserver.ErrUnsupportedFormat)
	}
	tifds := tif.IFDs()
	if len(tifds) == 0 {
		return nil, fmt.Errorf("%w: no image directory", cogserver.ErrUnsupportedFormat)
	}
	if err := sanityCheckIFD(tifds[0]); err != nil {
		return nil, fmt.Errorf("%w: ifd 0: %v", cogserver.ErrUnsupportedFormat, err)
	}
	d := &ifd{}
	if err := tiff.UnmarshalIFD(tifds[0], d); err != nil {
		return nil, fmt.Errorf("%w: unmarshal ifd: %v", cogserver.ErrUnsupportedFormat, err)
	}
	meta, err := metadata(d)
	if err != nil {
		return nil, err
	}
	return &Source{
		r:         r,
		ifd:       d,
		meta:      meta,
		bigEndian: order == "MM",
		tilesX:    int((d.ImageWidth + uint64(d.TileWidth) - 1) / uint64(d.TileWidth)),
	}, nil
}

func sanityCheckIFD(ifd tiff.IFD) error {
	to := ifd.GetField(324)
	tl := ifd.GetField(325)
	if to == nil || tl == nil {
		return fmt.Errorf("no tiles")
	}
	if to.Count() != tl.Count() {
		return fmt.Errorf("inconsistent tile off/len count")
	}
	so := ifd.GetField(272)
	sl := ifd.GetField(279)
	if so != nil || sl != nil {
		return fmt.Errorf("tif has strips")
	}
	return nil
}

func metadata(d *ifd) (cogserver.RasterMetadata, error) {
	if d.SubfileType != 0 {
		return cogserver.RasterMetadata{}, fmt.Errorf("%w: first image has subfile type %d", cogserver.ErrUnsupportedFormat, d.SubfileType)
	}
	if d.Compression > cogserver.CompressionNone {
		return cogserver.RasterMetadata{}, fmt.Errorf("%w: compression %d", cogserver.ErrUnsupportedFormat, d.Compression)
	}
	spp := int(d.SamplesPerPixel)
	if spp == 0 {
		spp = 1
	}
	if d.PlanarConfiguration == cogserver.PlanarConfigurationSeparate && spp > 1 {
		return cogserver.RasterMetadata{}, fmt.Errorf("%w: planar configuration separate", cogserver.ErrUnsupportedFormat)
	}
	if d.TileWidth == 0 || d.TileLength == 0 {
		return cogserver.RasterMetadata{}, fmt.Errorf("%w: tile size %dx%d", cogserver.ErrUnsupportedFormat, d.TileWidth, d.TileLength)
	}
	if len(d.BitsPerSample) == 0 {
		d.BitsPerSample = []uint16{1}
	}
	format := cogserver.SampleFormat(cogserver.SampleFormatUInt)
	if len(d.SampleFormat) > 0 {
		format = cogserver.SampleFormat(d.SampleFormat[0])
	}
	for i := 1; i < len(d.BitsPerSample); i++ {
		if d.BitsPerSample[i] != d.BitsPerSample[0] {
			return cogserver.RasterMetadata{}, fmt.Errorf("%w: mixed bits per sample", cogserver.ErrUnsupportedFormat)
		}
	}
	for i := 1; i < len(d.SampleFormat); i++ {
		if d.SampleFormat[i] != d.SampleFormat[0] {
			return cogserver.RasterMetadata{}, fmt.Errorf("%w: mixed sample formats", cogserver.ErrUnsupportedFormat)
		}
	}
	dt, err := cogserver.DataTypeFromTIFF(d.BitsPerSample[0], format)
	if err != nil {
		return cogserver.RasterMetadata{}, err
	}
	meta := cogserver.RasterMetadata{
		Width:       int(d.ImageWidth),
		Height:      int(d.ImageLength),
		Bands:       spp,
		DataType:    dt,
		Photometric: cogserver.PhotometricInterpretationMinIsBlack,
	}
	color := 1
	if d.PhotometricInterpretation == cogserver.PhotometricInterpretationRGB && spp >= 3 {
		meta.Photometric = cogserver.PhotometricInterpretationRGB
		color = 3
	}
	if len(d.ExtraSamples) > 0 && spp > color {
		meta.Alpha = d.ExtraSamples[0] == cogserver.ExtraSamplesUnassAlpha ||
			d.ExtraSamples[0] == cogserver.ExtraSamplesAssocAlpha
	}
	tilesX := (d.ImageWidth + uint64(d.TileWidth) - 1) / uint64(d.TileWidth)
	tilesY := (d.ImageLength + uint64(d.TileLength) - 1) / uint64(d.TileLength)
	if uint64(len(d.TileOffsets)) != tilesX*tilesY {
		return cogserver.RasterMetadata{}, fmt.Errorf("%w: %d tiles for a %dx%d grid", cogserver.ErrUnsupportedFormat, len(d.TileOffsets), tilesX, tilesY)
	}
	return meta, nil
}

func (s *Source) Metadata() cogserver.RasterMetadata {
	return s.meta
}

// ReadTile copies the parts of every source tile overlapping win. Sparse
// source tiles are left to the fill value.
func (s *Source) ReadTile(ctx context.Context, win cogserver.TileWindow, buf []byte) error {
	ps := s.meta.PixelSize()
	stw, sth := int(s.ifd.TileWidth), int(s.ifd.TileLength)
	srcTileBytes := stw * sth * ps
	tile := make([]byte, srcTileBytes)

	for ty := win.Y / sth; ty*sth < win.Y+win.Height; ty++ {
		for tx := win.X / stw; tx*stw < win.X+win.Width; tx++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			idx := ty*s.tilesX + tx
			off, cnt := s.ifd.TileOffsets[idx], s.ifd.TileByteCounts[idx]
			if off == 0 || cnt == 0 {
				continue
			}
			if cnt < uint64(srcTileBytes) {
				return fmt.Errorf("%w: tile %d has %d bytes, expected %d", cogserver.ErrUnsupportedFormat, idx, cnt, srcTileBytes)
			}
			n, err := s.r.ReadAt(tile, int64(off))
			if n < len(tile) {
				if err == nil || err == io.EOF {
					err = io.ErrUnexpectedEOF
				}
				return fmt.Errorf("%w: read tile %d at %d: %v", cogserver.ErrSourceUnavailable, idx, off, err)
			}
			if s.bigEndian {
				swap(tile, s.meta.DataType)
			}

			// intersection of the source tile with win, in raster coordinates
			x0, y0 := max(win.X, tx*stw), max(win.Y, ty*sth)
			x1, y1 := min(win.X+win.Width, (tx+1)*stw), min(win.Y+win.Height, (ty+1)*sth)
			rowBytes := (x1 - x0) * ps
			for y := y0; y < y1; y++ {
				src := ((y-ty*sth)*stw + (x0 - tx*stw)) * ps
				dst := ((y-win.Y)*win.TileWidth + (x0 - win.X)) * ps
				copy(buf[dst:dst+rowBytes], tile[src:src+rowBytes])
			}
		}
	}
	return nil
}

// swap converts big endian samples to little endian in place.
func swap(buf []byte, dt cogserver.DataType) {
	w := dt.Size()
	if dt.Complex() {
		w /= 2
	}
	if w == 1 {
		return
	}
	for i := 0; i+w <= len(buf); i += w {
		for a, b := i, i+w-1; a < b; a, b = a+1, b-1 {
			buf[a], buf[b] = buf[b], buf[a]
		}
	}
}
