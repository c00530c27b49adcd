package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/osio"
	"github.com/airbusgeo/osio/gcs"
	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// config holds the settings that can be given through the environment. Flags
// override them.
type config struct {
	Port           int           `env:"COGSERVER_PORT" envDefault:"8080"`
	MetricsPort    int           `env:"COGSERVER_METRICS_PORT" envDefault:"8888"`
	TileSize       int           `env:"COGSERVER_TILE_SIZE" envDefault:"512"`
	CacheTiles     int64         `env:"COGSERVER_CACHE_TILES" envDefault:"1024"`
	CachePrune     uint32        `env:"COGSERVER_CACHE_PRUNE" envDefault:"100"`
	CacheTTL       time.Duration `env:"COGSERVER_CACHE_TTL" envDefault:"10m"`
	Concurrency    int           `env:"COGSERVER_CONCURRENCY" envDefault:"4"`
	BlockSize      string        `env:"COGSERVER_BLOCKSIZE" envDefault:"512k"`
	NumBlocks      int           `env:"COGSERVER_NUMBLOCKS" envDefault:"1000"`
	SourceDriver   string        `env:"COGSERVER_SOURCE_DRIVER" envDefault:"gdal"`
	GDALConfig     string        `env:"COGSERVER_GDAL_CONFIG"`
	GDALOpen       string        `env:"COGSERVER_GDAL_OPEN_OPTIONS"`
	Verbose        bool          `env:"COGSERVER_VERBOSE"`
	ForceBigTIFF   bool          `env:"COGSERVER_BIGTIFF"`
	DummyDataType  string        `env:"COGSERVER_DUMMY_DATATYPE" envDefault:"Byte"`
	ShutdownPeriod time.Duration `env:"COGSERVER_SHUTDOWN_PERIOD" envDefault:"5s"`
}

var cfg config
var logger *zap.Logger
var stcl *storage.Client
var gcsa *osio.Adapter
var startTime time.Time

func main() {
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse environment: %v\n", err)
		os.Exit(1)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	err := newRootCommand().ExecuteContext(ctx)
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cogserver",
		Short: "serve rasters as virtual cloud optimized geotiffs",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			startTime = time.Now()
			var err error
			if cfg.Verbose {
				logger, err = zap.NewDevelopment()
			} else {
				logger, err = zap.NewProduction()
			}
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			godal.RegisterAll()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			logger.Debug("command done",
				zap.String("command", cmd.Name()),
				zap.Duration("took", time.Since(startTime)))
		},
	}
	rootCmd.PersistentFlags().BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "verbose output")
	rootCmd.PersistentFlags().StringVar(&cfg.BlockSize, "blocksize", cfg.BlockSize, "gs cache blocksize")
	rootCmd.PersistentFlags().IntVar(&cfg.NumBlocks, "numblocks", cfg.NumBlocks, "number of gs cached blocks")
	rootCmd.PersistentFlags().StringVar(&cfg.SourceDriver, "driver", cfg.SourceDriver, "raster reader: gdal or tiff")
	rootCmd.PersistentFlags().StringVar(&cfg.GDALConfig, "config", cfg.GDALConfig, "gdal configuration options. e.g: \"GDAL_CACHEMAX=512 GDAL_DISABLE_READDIR_ON_OPEN=EMPTY_DIR\"")
	rootCmd.PersistentFlags().StringVar(&cfg.GDALOpen, "oo", cfg.GDALOpen, "gdal dataset open options")
	rootCmd.PersistentFlags().IntVar(&cfg.TileSize, "tilesize", cfg.TileSize, "internal tile size of the served cogs")
	rootCmd.PersistentFlags().BoolVar(&cfg.ForceBigTIFF, "bigtiff", cfg.ForceBigTIFF, "always serve bigtiff files")
	rootCmd.PersistentFlags().StringVar(&cfg.DummyDataType, "dummy-datatype", cfg.DummyDataType, "sample type of the {dummy} dataset, e.g. UInt16 or Float32")
	rootCmd.AddCommand(newServeCommand(), newInfoCommand())
	return rootCmd
}

// gcsAdapter lazily creates the block cached gs:// reader shared by the
// tiff driver and GDAL.
func gcsAdapter(ctx context.Context) (*osio.Adapter, error) {
	if gcsa != nil {
		return gcsa, nil
	}
	var err error
	if stcl, err = storage.NewClient(ctx); err != nil {
		return nil, fmt.Errorf("storage.newclient: %w", err)
	}
	gcsh, err := gcs.Handle(ctx, gcs.GCSClient(stcl))
	if err != nil {
		return nil, fmt.Errorf("gcs.handle: %w", err)
	}
	gcsa, err = osio.NewAdapter(gcsh, osio.BlockSize(cfg.BlockSize), osio.NumCachedBlocks(cfg.NumBlocks))
	if err != nil {
		return nil, fmt.Errorf("osio.new: %w", err)
	}
	if err := godal.RegisterVSIHandler("gs://", gcsa); err != nil {
		return nil, fmt.Errorf("register osio: %w", err)
	}
	return gcsa, nil
}
