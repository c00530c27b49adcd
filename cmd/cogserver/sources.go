package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/airbusgeo/cogserver"
	"github.com/airbusgeo/cogserver/gdalsource"
	"github.com/airbusgeo/cogserver/tiffsource"
	"github.com/google/tiff"
	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"
)

const dummyDataset = "{dummy}"

// datasetName is the url path a dataset argument is served at.
func datasetName(arg string) string {
	if arg == dummyDataset {
		return "dummy.tif"
	}
	name := path.Base(strings.TrimSuffix(arg, "/"))
	if !strings.HasSuffix(strings.ToLower(name), ".tif") {
		name += ".tif"
	}
	return name
}

type closingSource struct {
	cogserver.RasterSource
	io.Closer
}

// dummySource is the yellow test raster with the configured sample type.
func dummySource() (cogserver.RasterSource, error) {
	dt, err := cogserver.ParseDataType(cfg.DummyDataType)
	if err != nil {
		return nil, err
	}
	meta := cogserver.DummySource().Metadata()
	meta.DataType = dt
	return cogserver.NewConstantSource(meta, 255, 255, 0)
}

func openSource(ctx context.Context, arg string) (cogserver.RasterSource, error) {
	if arg == dummyDataset {
		return dummySource()
	}
	gs := strings.HasPrefix(arg, "gs://")
	if gs {
		if _, err := gcsAdapter(ctx); err != nil {
			return nil, err
		}
	}
	switch cfg.SourceDriver {
	case "gdal":
		var opts []gdalsource.Option
		if cfg.GDALConfig != "" {
			configOpts, err := shellwords.Parse(cfg.GDALConfig)
			if err != nil {
				return nil, fmt.Errorf("invalid gdal config %q: %w", cfg.GDALConfig, err)
			}
			opts = append(opts, gdalsource.ConfigOptions(configOpts...))
		}
		if cfg.GDALOpen != "" {
			openOpts, err := shellwords.Parse(cfg.GDALOpen)
			if err != nil {
				return nil, fmt.Errorf("invalid gdal open options %q: %w", cfg.GDALOpen, err)
			}
			opts = append(opts, gdalsource.OpenOptions(openOpts...))
		}
		return gdalsource.Open(arg, opts...)
	case "tiff":
		var r tiff.ReadAtReadSeeker
		var closer io.Closer
		if gs {
			gr, err := gcsa.Reader(arg)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", arg, err)
			}
			r = gr
		} else {
			f, err := os.Open(arg)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", arg, err)
			}
			r, closer = f, f
		}
		src, err := tiffsource.Open(r)
		if err != nil {
			if closer != nil {
				closer.Close()
			}
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
		if closer != nil {
			return closingSource{RasterSource: src, Closer: closer}, nil
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown source driver %q", cfg.SourceDriver)
	}
}

func datasetOptions(metrics *cogserver.Metrics) []cogserver.Option {
	opts := []cogserver.Option{
		cogserver.TileSize(cfg.TileSize, cfg.TileSize),
		cogserver.Concurrency(cfg.Concurrency),
		cogserver.WithLogger(logger),
		cogserver.WithMetrics(metrics),
	}
	if cfg.CacheTiles > 0 {
		opts = append(opts, cogserver.TileCache(cfg.CacheTiles, cfg.CachePrune, cfg.CacheTTL))
	}
	if cfg.ForceBigTIFF {
		opts = append(opts, cogserver.ForceBigTIFF())
	}
	return opts
}

func openDataset(ctx context.Context, arg string, metrics *cogserver.Metrics) (*cogserver.Dataset, error) {
	src, err := openSource(ctx, arg)
	if err != nil {
		return nil, err
	}
	ds, err := cogserver.Open(src, datasetOptions(metrics)...)
	if err != nil {
		if c, ok := src.(io.Closer); ok {
			c.Close()
		}
		return nil, fmt.Errorf("open %s: %w", arg, err)
	}
	meta := ds.Metadata()
	logger.Info("opened dataset",
		zap.String("source", arg),
		zap.String("name", datasetName(arg)),
		zap.Int("width", meta.Width),
		zap.Int("height", meta.Height),
		zap.Int("bands", meta.Bands),
		zap.Stringer("datatype", meta.DataType),
		zap.Int64("size", ds.Size()),
		zap.Bool("bigtiff", ds.Layout().BigTIFF))
	return ds, nil
}
