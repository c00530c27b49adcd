package cogserver

import (
	"io"
	"testing"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type parsedIFD struct {
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

func parseVirtual(t *testing.T, ds *Dataset) (tiff.TIFF, *parsedIFD) {
	t.Helper()
	tif, err := tiff.Parse(io.NewSectionReader(ds, 0, ds.Size()), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "II", tif.Order())
	ifds := tif.IFDs()
	require.Len(t, ifds, 1)
	p := &parsedIFD{}
	require.NoError(t, tiff.UnmarshalIFD(ifds[0], p))
	return tif, p
}

func TestVirtualTIFFParses(t *testing.T) {
	testfunc := func(src RasterSource, opts []Option, photometric uint16, extra []uint16, format uint16) {
		t.Helper()
		ds, err := Open(src, opts...)
		require.NoError(t, err)
		defer ds.Close()
		meta := ds.Metadata()
		_, p := parseVirtual(t, ds)

		assert.EqualValues(t, meta.Width, p.ImageWidth)
		assert.EqualValues(t, meta.Height, p.ImageLength)
		assert.EqualValues(t, meta.Bands, p.SamplesPerPixel)
		assert.EqualValues(t, CompressionNone, p.Compression)
		assert.EqualValues(t, PlanarConfigurationContig, p.PlanarConfiguration)
		assert.Equal(t, photometric, p.PhotometricInterpretation)
		assert.EqualValues(t, meta.TileWidth, p.TileWidth)
		assert.EqualValues(t, meta.TileHeight, p.TileLength)
		assert.Equal(t, extra, p.ExtraSamples)
		require.Len(t, p.BitsPerSample, meta.Bands)
		require.Len(t, p.SampleFormat, meta.Bands)
		for b := 0; b < meta.Bands; b++ {
			assert.Equal(t, meta.DataType.BitsPerSample(), p.BitsPerSample[b])
			assert.Equal(t, format, p.SampleFormat[b])
		}
		slots := ds.Layout().Tiles
		require.Len(t, p.TileOffsets, len(slots))
		require.Len(t, p.TileByteCounts, len(slots))
		for i, s := range slots {
			assert.EqualValues(t, s.Offset, p.TileOffsets[i])
			assert.EqualValues(t, s.Length, p.TileByteCounts[i])
		}
	}

	testfunc(newPatternSource(1000, 1000, 1), []Option{TileSize(256, 256)},
		PhotometricInterpretationMinIsBlack, nil, SampleFormatUInt)
	testfunc(newPatternSource(100, 100, 1), nil,
		PhotometricInterpretationMinIsBlack, nil, SampleFormatUInt)
	testfunc(newPatternSource(1000, 1000, 2), []Option{TileSize(256, 256), ForceBigTIFF()},
		PhotometricInterpretationMinIsBlack, []uint16{ExtraSamplesUnspecified}, SampleFormatUInt)
	testfunc(DummySource(), nil,
		PhotometricInterpretationRGB, nil, SampleFormatUInt)

	rgba, err := NewConstantSource(RasterMetadata{
		Width: 600, Height: 300, Bands: 5, DataType: Int16,
		Photometric: PhotometricInterpretationRGB, Alpha: true,
	}, 1, 2, 3, 4, 5)
	require.NoError(t, err)
	testfunc(rgba, []Option{TileSize(128, 128)},
		PhotometricInterpretationRGB, []uint16{ExtraSamplesUnassAlpha, ExtraSamplesUnspecified}, SampleFormatInt)

	float, err := NewConstantSource(RasterMetadata{
		Width: 64, Height: 64, Bands: 1, DataType: Float32,
		Photometric: PhotometricInterpretationMinIsBlack,
	}, 1.5)
	require.NoError(t, err)
	testfunc(float, []Option{TileSize(16, 16), ForceBigTIFF()},
		PhotometricInterpretationMinIsBlack, nil, SampleFormatIEEEFP)
}

func TestHeaderBytes(t *testing.T) {
	meta := byteMeta(1000, 1000, 1, 256)
	l, err := Plan(meta, IdentityEncoder(meta))
	require.NoError(t, err)
	assert.Equal(t, []byte{'I', 'I', 42, 0, 8, 0, 0, 0}, l.Header())

	l, err = PlanBigTIFF(meta, IdentityEncoder(meta))
	require.NoError(t, err)
	assert.Equal(t, []byte{'I', 'I', 43, 0, 8, 0, 0, 0, 16, 0, 0, 0, 0, 0, 0, 0}, l.Header())
}

func TestUnsetPhotometric(t *testing.T) {
	src, err := NewConstantSource(RasterMetadata{Width: 100, Height: 100, Bands: 2, DataType: Byte}, 7)
	require.NoError(t, err)
	ds, err := Open(src)
	require.NoError(t, err)
	defer ds.Close()

	_, p := parseVirtual(t, ds)
	assert.EqualValues(t, PhotometricInterpretationMinIsBlack, p.PhotometricInterpretation)
	assert.Equal(t, []uint16{ExtraSamplesUnspecified}, p.ExtraSamples)

	meta := ds.Metadata()
	meta.Photometric = PhotometricInterpretationMinIsBlack
	l, err := Plan(meta, IdentityEncoder(meta))
	require.NoError(t, err)
	assert.Equal(t, ds.Layout().Directory(), l.Directory())
}
