package cogserver

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// A Dataset exposes a RasterSource as a virtual COG. Its layout is computed
// once by Open and never changes; all methods are safe for concurrent use.
type Dataset struct {
	tileWidth, tileHeight int
	encoderFactory        EncoderFactory
	bigtiff               bool
	cacheTiles            int64
	cachePrune            uint32
	cacheTTL              time.Duration
	concurrency           int
	logger                *zap.Logger
	metrics               *Metrics

	meta     RasterMetadata
	source   RasterSource
	encoder  TileEncoder
	layout   *Layout
	index    *Index
	resolver *Resolver
	cache    *tileCache
	inflight singleflight.Group

	mu      sync.Mutex
	flights map[int]*flight
}

// flight is a tile production shared by concurrent callers. Its context is
// cancelled once no caller waits for it anymore.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

type Option func(ds *Dataset) error

// TileSize sets the internal tiling of the virtual file. Both dimensions must
// be multiples of 16. Defaults to 512x512.
func TileSize(width, height int) Option {
	return func(ds *Dataset) error {
		if width <= 0 || height <= 0 || width%16 != 0 || height%16 != 0 {
			return ErrInvalidOption{"tile width and height must be positive multiples of 16"}
		}
		ds.tileWidth, ds.tileHeight = width, height
		return nil
	}
}

// WithEncoder sets the tile encoder. Defaults to IdentityEncoder.
func WithEncoder(factory EncoderFactory) Option {
	return func(ds *Dataset) error {
		if factory == nil {
			return ErrInvalidOption{"encoder factory must not be nil"}
		}
		ds.encoderFactory = factory
		return nil
	}
}

// ForceBigTIFF creates a BigTIFF container even for small files.
func ForceBigTIFF() Option {
	return func(ds *Dataset) error {
		ds.bigtiff = true
		return nil
	}
}

// TileCache keeps up to maxTiles encoded tiles in memory, evicting
// itemsToPrune tiles at a time once full. Tiles expire after ttl.
func TileCache(maxTiles int64, itemsToPrune uint32, ttl time.Duration) Option {
	return func(ds *Dataset) error {
		if maxTiles < 0 {
			return ErrInvalidOption{"tile cache size must be >=0"}
		}
		if maxTiles > 0 && (itemsToPrune == 0 || ttl <= 0) {
			return ErrInvalidOption{"tile cache prune count and ttl must be >=1"}
		}
		ds.cacheTiles, ds.cachePrune, ds.cacheTTL = maxTiles, itemsToPrune, ttl
		return nil
	}
}

// Concurrency sets how many tiles may be produced in parallel. Defaults to 1.
func Concurrency(n int) Option {
	return func(ds *Dataset) error {
		if n < 1 {
			return ErrInvalidOption{"concurrency must be >=1"}
		}
		ds.concurrency = n
		return nil
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(ds *Dataset) error {
		if logger == nil {
			return ErrInvalidOption{"logger must not be nil"}
		}
		ds.logger = logger
		return nil
	}
}

func WithMetrics(m *Metrics) Option {
	return func(ds *Dataset) error {
		ds.metrics = m
		return nil
	}
}

// Open plans the virtual file of src. The source metadata tile size is
// replaced by the one set with TileSize.
func Open(src RasterSource, options ...Option) (*Dataset, error) {
	ds := &Dataset{
		tileWidth:      512,
		tileHeight:     512,
		encoderFactory: IdentityEncoder,
		concurrency:    1,
		logger:         zap.NewNop(),
		source:         src,
		flights:        make(map[int]*flight),
	}
	for _, o := range options {
		if err := o(ds); err != nil {
			return nil, err
		}
	}
	ds.meta = src.Metadata()
	ds.meta.TileWidth, ds.meta.TileHeight = ds.tileWidth, ds.tileHeight
	if err := ds.meta.Validate(); err != nil {
		return nil, err
	}
	ds.encoder = ds.encoderFactory(ds.meta)

	var err error
	if ds.bigtiff {
		ds.layout, err = PlanBigTIFF(ds.meta, ds.encoder)
	} else {
		ds.layout, err = Plan(ds.meta, ds.encoder)
	}
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	ds.index = NewIndex(ds.layout)
	ds.resolver = NewResolver(ds.layout, ds, ds.concurrency)
	if ds.cacheTiles > 0 {
		ds.cache = newTileCache(ds.cacheTiles, ds.cachePrune, ds.cacheTTL)
	}
	ds.logger.Debug("planned virtual cog",
		zap.Int("width", ds.meta.Width),
		zap.Int("height", ds.meta.Height),
		zap.Int("bands", ds.meta.Bands),
		zap.Stringer("datatype", ds.meta.DataType),
		zap.Int("tiles", len(ds.layout.Tiles)),
		zap.Bool("bigtiff", ds.layout.BigTIFF),
		zap.Int64("size", ds.layout.TotalLength))
	return ds, nil
}

func (ds *Dataset) Metadata() RasterMetadata {
	return ds.meta
}

func (ds *Dataset) Layout() *Layout {
	return ds.layout
}

func (ds *Dataset) Index() *Index {
	return ds.index
}

// Size is the length of the virtual file.
func (ds *Dataset) Size() int64 {
	return ds.layout.TotalLength
}

func (ds *Dataset) Resolve(r ByteRange) ([]FetchInstruction, error) {
	return ds.resolver.Resolve(r)
}

// WriteRange writes the bytes of r to w.
func (ds *Dataset) WriteRange(ctx context.Context, w io.Writer, r ByteRange) (int64, error) {
	instrs, err := ds.resolver.Resolve(r)
	if err != nil {
		return 0, err
	}
	return ds.resolver.Execute(ctx, w, instrs)
}

// ReadAt implements io.ReaderAt over the virtual file.
func (ds *Dataset) ReadAt(p []byte, off int64) (int, error) {
	return ds.resolver.ReadAt(p, off)
}

// TilePayload returns the encoded payload of tile index. Concurrent calls for
// the same tile share a single production, which is abandoned when all of
// them have returned.
func (ds *Dataset) TilePayload(ctx context.Context, index int) ([]byte, error) {
	if index < 0 || index >= len(ds.layout.Tiles) {
		return nil, fmt.Errorf("%w: tile %d of %d", ErrOutOfBounds, index, len(ds.layout.Tiles))
	}
	if ds.cache != nil {
		p, ok := ds.cache.get(index)
		ds.metrics.cacheLookup(ok)
		if ok {
			return p, nil
		}
	}
	f := ds.join(ctx, index)
	defer ds.leave(index, f)
	ch := ds.inflight.DoChan(strconv.Itoa(index), func() (interface{}, error) {
		p, err := ds.produceTile(f.ctx, index)
		if err != nil {
			return nil, err
		}
		if ds.cache != nil {
			ds.cache.set(index, p)
		}
		return p, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// join registers a caller waiting for tile index. The production context
// keeps the values of the first caller but not its cancellation.
func (ds *Dataset) join(ctx context.Context, index int) *flight {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	f, ok := ds.flights[index]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		ds.flights[index] = f
	}
	f.waiters++
	return f
}

// leave abandons the production of tile index when f has no waiter left.
// Later callers start a new production.
func (ds *Dataset) leave(index int, f *flight) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	delete(ds.flights, index)
	ds.inflight.Forget(strconv.Itoa(index))
}

func (ds *Dataset) produceTile(ctx context.Context, index int) ([]byte, error) {
	st := time.Now()
	win := ds.meta.Window(index)
	// fill policy: bytes not written by the source read as 0
	raw := make([]byte, ds.meta.TileBytes())
	if err := ds.source.ReadTile(ctx, win, raw); err != nil {
		ds.logger.Warn("read tile", zap.Int("tile", index), zap.Error(err))
		return nil, fmt.Errorf("read tile %d: %w", index, err)
	}
	payload, err := ds.encoder.Encode(index, raw)
	if err != nil {
		return nil, fmt.Errorf("encode tile %d: %w", index, err)
	}
	if want := ds.layout.Tiles[index].Length; int64(len(payload)) != want {
		return nil, fmt.Errorf("%w: tile %d encoded to %d bytes, expected %d", ErrPayloadLength, index, len(payload), want)
	}
	ds.metrics.tileProduced(time.Since(st))
	return payload, nil
}

// Close releases the tile cache and closes the source if it is an io.Closer.
func (ds *Dataset) Close() error {
	if ds.cache != nil {
		ds.cache.stop()
	}
	if c, ok := ds.source.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
