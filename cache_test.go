package cogserver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileCache(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	ds, src := openPattern(t, 1000, 1000, 1, 256, TileCache(100, 10, time.Minute), WithMetrics(metrics))
	l := ds.Layout()

	readRange(t, ds, l.DataOffset, l.TotalLength)
	assert.EqualValues(t, 16, src.reads.Load())
	readRange(t, ds, l.DataOffset, l.TotalLength)
	assert.EqualValues(t, 16, src.reads.Load())

	assert.EqualValues(t, 16, testutil.ToFloat64(metrics.cacheHits))
	assert.EqualValues(t, 16, testutil.ToFloat64(metrics.cacheMisses))
	assert.EqualValues(t, 16, testutil.ToFloat64(metrics.tiles))
}

func TestNoTileCache(t *testing.T) {
	ds, src := openPattern(t, 1000, 1000, 1, 256)
	l := ds.Layout()
	readRange(t, ds, l.DataOffset, l.TotalLength)
	readRange(t, ds, l.DataOffset, l.TotalLength)
	assert.EqualValues(t, 32, src.reads.Load())
}

func TestConcurrentTileProduction(t *testing.T) {
	ds, src := openPattern(t, 100, 100, 1, 64)
	src.block = make(chan struct{})

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := ds.TilePayload(context.Background(), 0)
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	// let the callers pile up on the blocked production
	time.Sleep(50 * time.Millisecond)
	close(src.block)
	wg.Wait()

	assert.EqualValues(t, 1, src.reads.Load())
	for _, p := range results {
		assert.Equal(t, results[0], p)
	}
}

func TestTilePayloadCallerCancelled(t *testing.T) {
	ds, src := openPattern(t, 100, 100, 1, 64)
	src.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error)
	go func() {
		_, err := ds.TilePayload(ctx, 1)
		cancelled <- err
	}()
	done := make(chan []byte)
	go func() {
		p, err := ds.TilePayload(context.Background(), 1)
		assert.NoError(t, err)
		done <- p
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-cancelled, context.Canceled)

	// the other caller still waits for the shared production
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 0, src.abandoned.Load())
	close(src.block)
	assert.Len(t, <-done, 64*64)
	assert.EqualValues(t, 1, src.reads.Load())
}

func TestTilePayloadAbandoned(t *testing.T) {
	ds, src := openPattern(t, 100, 100, 1, 64)
	src.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		_, err := ds.TilePayload(ctx, 2)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Eventually(t, func() bool { return src.abandoned.Load() == 1 },
		time.Second, 5*time.Millisecond)

	// a later caller starts over
	close(src.block)
	p, err := ds.TilePayload(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, p, 64*64)
	assert.EqualValues(t, 2, src.reads.Load())
}

func TestTileCacheOptions(t *testing.T) {
	src := newPatternSource(10, 10, 1)
	_, err := Open(src, TileCache(-1, 10, time.Minute))
	assert.IsType(t, ErrInvalidOption{}, err)
	_, err = Open(src, TileCache(10, 0, time.Minute))
	assert.IsType(t, ErrInvalidOption{}, err)
	_, err = Open(src, TileSize(100, 100))
	assert.IsType(t, ErrInvalidOption{}, err)
	_, err = Open(src, Concurrency(0))
	assert.IsType(t, ErrInvalidOption{}, err)
}
