package cogserver

import (
	"strconv"
	"time"

	"github.com/karlseguin/ccache/v3"
)

// tileCache keeps encoded tile payloads of a dataset. It is bounded by a
// number of tiles and safe for concurrent use.
type tileCache struct {
	cache *ccache.Cache[[]byte]
	ttl   time.Duration
}

func newTileCache(maxTiles int64, itemsToPrune uint32, ttl time.Duration) *tileCache {
	return &tileCache{
		cache: ccache.New(ccache.Configure[[]byte]().MaxSize(maxTiles).ItemsToPrune(itemsToPrune)),
		ttl:   ttl,
	}
}

func (c *tileCache) get(index int) ([]byte, bool) {
	item := c.cache.Get(strconv.Itoa(index))
	if item == nil || item.Expired() {
		return nil, false
	}
	return item.Value(), true
}

func (c *tileCache) set(index int, payload []byte) {
	c.cache.Set(strconv.Itoa(index), payload, c.ttl)
}

func (c *tileCache) stop() {
	c.cache.Stop()
}
