package cogserver

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

type PlanarConfiguration uint16

const (
	PlanarConfigurationContig   = 1
	PlanarConfigurationSeparate = 2
)

type SampleFormat uint16

const (
	SampleFormatUInt          = 1
	SampleFormatInt           = 2
	SampleFormatIEEEFP        = 3
	SampleFormatVoid          = 4
	SampleFormatComplexInt    = 5
	SampleFormatComplexIEEEFP = 6
)

type ExtraSamples uint16

const (
	ExtraSamplesUnspecified = 0
	ExtraSamplesAssocAlpha  = 1
	ExtraSamplesUnassAlpha  = 2
)

type PhotometricInterpretation uint16

const (
	PhotometricInterpretationMinIsWhite = 0
	PhotometricInterpretationMinIsBlack = 1
	PhotometricInterpretationRGB        = 2
)

const (
	CompressionNone = 1
)

const (
	TByte  = 1
	TShort = 3
	TLong  = 4
	TLong8 = 16
)

const (
	tagImageWidth                = 256
	tagImageLength               = 257
	tagBitsPerSample             = 258
	tagCompression               = 259
	tagPhotometricInterpretation = 262
	tagSamplesPerPixel           = 277
	tagPlanarConfiguration       = 284
	tagTileWidth                 = 322
	tagTileLength                = 323
	tagTileOffsets               = 324
	tagTileByteCounts            = 325
	tagExtraSamples              = 338
	tagSampleFormat              = 339
)

// ifd is the single full resolution image directory of the virtual file.
type ifd struct {
	ImageWidth                uint32
	ImageLength               uint32
	BitsPerSample             []uint16
	Compression               uint16
	PhotometricInterpretation uint16
	SamplesPerPixel           uint16
	PlanarConfiguration       uint16
	TileWidth                 uint16
	TileLength                uint16
	ExtraSamples              []uint16
	SampleFormat              []uint16

	ntiles     uint64
	ntags      uint64
	tagsSize   uint64
	strileSize uint64
}

type tagData struct {
	bytes.Buffer
	Offset uint64
}

func (t *tagData) NextOffset() uint64 {
	return t.Offset + uint64(t.Buffer.Len())
}

type cog struct {
	enc     binary.ByteOrder
	ifd     *ifd
	bigtiff bool
}

func newCOG(meta RasterMetadata, compression uint16, bigtiff bool) *cog {
	d := &ifd{
		ImageWidth:                uint32(meta.Width),
		ImageLength:               uint32(meta.Height),
		BitsPerSample:             make([]uint16, meta.Bands),
		Compression:               compression,
		PhotometricInterpretation: uint16(meta.photometric()),
		SamplesPerPixel:           uint16(meta.Bands),
		PlanarConfiguration:       PlanarConfigurationContig,
		TileWidth:                 uint16(meta.TileWidth),
		TileLength:                uint16(meta.TileHeight),
		ExtraSamples:              meta.extraSamples(),
		SampleFormat:              make([]uint16, meta.Bands),
		ntiles:                    uint64(meta.TileCount()),
	}
	for b := 0; b < meta.Bands; b++ {
		d.BitsPerSample[b] = meta.DataType.BitsPerSample()
		d.SampleFormat[b] = uint16(meta.DataType.SampleFormat())
	}
	c := &cog{enc: binary.LittleEndian, ifd: d, bigtiff: bigtiff}
	d.ntags, d.tagsSize, d.strileSize = c.structure()
	return c
}

func (c *cog) headerSize() uint64 {
	if c.bigtiff {
		return 16
	}
	return 8
}

// structure returns the number of entries of the directory, the size of its
// entry table plus overflow area, and the size of the external TileOffsets and
// TileByteCounts arrays.
func (c *cog) structure() (tagCount, ifdSize, strileSize uint64) {
	d := c.ifd
	size := uint64(16) //8 for field count + 8 for next ifd offset
	if !c.bigtiff {
		size = 6 // 2 for field count + 4 for next ifd offset
	}

	// width, length, compression, photometric, spp, planar, tile w/h, offsets, counts
	tagCount = 10
	size += tagCount * c.tagSize()

	tagCount++
	size += c.arrayFieldSize(d.BitsPerSample)
	if len(d.ExtraSamples) > 0 {
		tagCount++
		size += c.arrayFieldSize(d.ExtraSamples)
	}
	tagCount++
	size += c.arrayFieldSize(d.SampleFormat)

	if d.ntiles > 1 {
		strileSize = 2 * d.ntiles * c.strileWidth()
	}
	return tagCount, size, strileSize
}

func (c *cog) writeHeader(w io.Writer) error {
	if c.bigtiff {
		buf := [16]byte{}
		copy(buf[0:], []byte("II"))
		c.enc.PutUint16(buf[2:], 43)
		c.enc.PutUint16(buf[4:], 8)
		c.enc.PutUint16(buf[6:], 0)
		c.enc.PutUint64(buf[8:], 16)
		_, err := w.Write(buf[:])
		return err
	}
	buf := [8]byte{}
	copy(buf[0:], []byte("II"))
	c.enc.PutUint16(buf[2:], 42)
	c.enc.PutUint32(buf[4:], 8)
	_, err := w.Write(buf[:])
	return err
}

// writeIFD writes the entry table and overflow area of the directory located
// at offset. Tile offsets and byte counts live at strileOffset when there is
// more than one tile, first is only used for a single tile image.
func (c *cog) writeIFD(w io.Writer, offset, strileOffset uint64, first TileSlot) error {
	d := c.ifd
	overflow := &tagData{
		Offset: offset + 8 + 20*d.ntags + 8,
	}
	if !c.bigtiff {
		overflow.Offset = offset + 2 + 12*d.ntags + 4
	}

	var err error
	if c.bigtiff {
		err = binary.Write(w, c.enc, d.ntags)
	} else {
		err = binary.Write(w, c.enc, uint16(d.ntags))
	}
	if err != nil {
		return fmt.Errorf("write tag count: %w", err)
	}

	fields := []struct {
		tag  uint16
		data interface{}
	}{
		{tagImageWidth, d.ImageWidth},
		{tagImageLength, d.ImageLength},
		{tagBitsPerSample, d.BitsPerSample},
		{tagCompression, d.Compression},
		{tagPhotometricInterpretation, d.PhotometricInterpretation},
		{tagSamplesPerPixel, d.SamplesPerPixel},
		{tagPlanarConfiguration, d.PlanarConfiguration},
		{tagTileWidth, d.TileWidth},
		{tagTileLength, d.TileLength},
	}
	for _, f := range fields {
		if err := c.writeField(w, f.tag, f.data, overflow); err != nil {
			return fmt.Errorf("write tag %d: %w", f.tag, err)
		}
	}

	if d.ntiles > 1 {
		sw := c.strileWidth()
		err = c.writeOffsetField(w, tagTileOffsets, c.strileType(), d.ntiles, strileOffset)
		if err == nil {
			err = c.writeOffsetField(w, tagTileByteCounts, c.strileType(), d.ntiles, strileOffset+d.ntiles*sw)
		}
	} else {
		err = c.writeEntry(w, tagTileOffsets, c.strileType(), 1, c.strileBytes(uint64(first.Offset)))
		if err == nil {
			err = c.writeEntry(w, tagTileByteCounts, c.strileType(), 1, c.strileBytes(uint64(first.Length)))
		}
	}
	if err != nil {
		return fmt.Errorf("write tile index: %w", err)
	}

	if len(d.ExtraSamples) > 0 {
		if err := c.writeField(w, tagExtraSamples, d.ExtraSamples, overflow); err != nil {
			return fmt.Errorf("write tag %d: %w", tagExtraSamples, err)
		}
	}
	if err := c.writeField(w, tagSampleFormat, d.SampleFormat, overflow); err != nil {
		return fmt.Errorf("write tag %d: %w", tagSampleFormat, err)
	}

	// single image, no next ifd
	if c.bigtiff {
		err = binary.Write(w, c.enc, uint64(0))
	} else {
		err = binary.Write(w, c.enc, uint32(0))
	}
	if err != nil {
		return fmt.Errorf("write next ifd offset: %w", err)
	}
	if _, err := w.Write(overflow.Bytes()); err != nil {
		return fmt.Errorf("write overflow: %w", err)
	}
	return nil
}
