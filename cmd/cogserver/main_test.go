package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/airbusgeo/cogserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetName(t *testing.T) {
	cases := map[string]string{
		"{dummy}":                     "dummy.tif",
		"/data/dem.tif":               "dem.tif",
		"gs://bucket/path/ortho.TIF":  "ortho.TIF",
		"/vsicurl/https://host/a.vrt": "a.vrt.tif",
		"gs://bucket/path/to/mosaic/": "mosaic.tif",
		"relative/no-extension":       "no-extension.tif",
	}
	for arg, name := range cases {
		assert.Equal(t, name, datasetName(arg), arg)
	}
}

func TestPrintInfo(t *testing.T) {
	ds, err := cogserver.Open(cogserver.DummySource())
	require.NoError(t, err)
	defer ds.Close()

	buf := &bytes.Buffer{}
	printInfo(buf, "{dummy}", ds, true)
	out := buf.String()
	assert.Contains(t, out, "path:      /dummy.tif")
	assert.Contains(t, out, "raster:    3000x2000, 3 bands of Byte")
	assert.Contains(t, out, "tiling:    512x512, 6x4 tiles")
	assert.Contains(t, out, "container: classic")
	assert.Contains(t, out, "tile 23")
}

func TestDummyDataType(t *testing.T) {
	saved := cfg
	t.Cleanup(func() { cfg = saved })

	cfg.DummyDataType = "Float32"
	src, err := openSource(context.Background(), dummyDataset)
	require.NoError(t, err)
	meta := src.Metadata()
	assert.Equal(t, cogserver.Float32, meta.DataType)
	assert.Equal(t, 3000, meta.Width)
	assert.EqualValues(t, cogserver.PhotometricInterpretationRGB, meta.Photometric)

	cfg.DummyDataType = "Int8"
	_, err = openSource(context.Background(), dummyDataset)
	assert.True(t, errors.Is(err, cogserver.ErrInvalidMetadata), "%v", err)
}
