package cogserver

import (
	"fmt"
	"math"
)

// RasterMetadata describes the raster exposed as a virtual COG. It must not
// change once a Dataset has been opened on it.
type RasterMetadata struct {
	Width, Height int
	Bands         int
	DataType      DataType
	// TileWidth and TileHeight must be multiples of 16. They are usually
	// filled in by Open from the TileSize option.
	TileWidth, TileHeight int
	// Photometric is either PhotometricInterpretationMinIsBlack or
	// PhotometricInterpretationRGB. RGB needs at least 3 bands. The zero
	// value is read as MinIsBlack.
	Photometric PhotometricInterpretation
	// Alpha flags the first band not covered by Photometric as an alpha band.
	Alpha bool
}

const maxTileSize = 65535

// Validate checks that m can be laid out as a single tiled image.
func (m RasterMetadata) Validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("%w: raster size %dx%d", ErrInvalidMetadata, m.Width, m.Height)
	}
	if int64(m.Width) > math.MaxUint32 || int64(m.Height) > math.MaxUint32 {
		return fmt.Errorf("%w: raster size %dx%d too large", ErrInvalidMetadata, m.Width, m.Height)
	}
	if m.Bands <= 0 || m.Bands > 65535 {
		return fmt.Errorf("%w: band count %d", ErrInvalidMetadata, m.Bands)
	}
	if m.DataType.Size() == 0 {
		return fmt.Errorf("%w: data type %v", ErrInvalidMetadata, m.DataType)
	}
	if m.TileWidth <= 0 || m.TileHeight <= 0 {
		return fmt.Errorf("%w: tile size %dx%d", ErrInvalidMetadata, m.TileWidth, m.TileHeight)
	}
	if m.TileWidth%16 != 0 || m.TileHeight%16 != 0 {
		return fmt.Errorf("%w: tile size %dx%d must be a multiple of 16", ErrInvalidMetadata, m.TileWidth, m.TileHeight)
	}
	if m.TileWidth > maxTileSize || m.TileHeight > maxTileSize {
		return fmt.Errorf("%w: tile size %dx%d too large", ErrInvalidMetadata, m.TileWidth, m.TileHeight)
	}
	switch m.photometric() {
	case PhotometricInterpretationMinIsBlack:
	case PhotometricInterpretationRGB:
		if m.Bands < 3 {
			return fmt.Errorf("%w: rgb with %d bands", ErrInvalidMetadata, m.Bands)
		}
	default:
		return fmt.Errorf("%w: photometric interpretation %d", ErrInvalidMetadata, m.Photometric)
	}
	return nil
}

// photometric is the interpretation written to the directory. MinIsWhite
// cannot be requested, 0 stands for an unset field.
func (m RasterMetadata) photometric() PhotometricInterpretation {
	if m.Photometric == PhotometricInterpretationMinIsWhite {
		return PhotometricInterpretationMinIsBlack
	}
	return m.Photometric
}

func (m RasterMetadata) TilesAcross() int {
	return (m.Width + m.TileWidth - 1) / m.TileWidth
}

func (m RasterMetadata) TilesDown() int {
	return (m.Height + m.TileHeight - 1) / m.TileHeight
}

func (m RasterMetadata) TileCount() int {
	return m.TilesAcross() * m.TilesDown()
}

// PixelSize is the number of bytes of one pixel (all bands).
func (m RasterMetadata) PixelSize() int {
	return m.Bands * m.DataType.Size()
}

// TileBytes is the size of an uncompressed tile, edge tiles included.
func (m RasterMetadata) TileBytes() int64 {
	return int64(m.TileWidth) * int64(m.TileHeight) * int64(m.PixelSize())
}

// Window returns the raster area covered by tile index, clipped to the raster
// extent.
func (m RasterMetadata) Window(index int) TileWindow {
	across := m.TilesAcross()
	col, row := index%across, index/across
	x, y := col*m.TileWidth, row*m.TileHeight
	return TileWindow{
		Index:      index,
		Col:        col,
		Row:        row,
		X:          x,
		Y:          y,
		Width:      min(m.TileWidth, m.Width-x),
		Height:     min(m.TileHeight, m.Height-y),
		TileWidth:  m.TileWidth,
		TileHeight: m.TileHeight,
	}
}

// extraSamples is the ExtraSamples tag content: one entry per band beyond
// those consumed by the photometric interpretation.
func (m RasterMetadata) extraSamples() []uint16 {
	color := 1
	if m.photometric() == PhotometricInterpretationRGB {
		color = 3
	}
	if m.Bands <= color {
		return nil
	}
	es := make([]uint16, m.Bands-color)
	if m.Alpha {
		es[0] = ExtraSamplesUnassAlpha
	}
	return es
}
