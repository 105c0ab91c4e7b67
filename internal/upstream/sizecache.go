// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"
)

// SizeCacheMaxCost is the capacity of the size cache in entries.
var SizeCacheMaxCost int64 = 1e6

// SizeCache memoizes upstream stream sizes across sessions, so that
// reopening a stream does not stat the upstream again.
type SizeCache struct {
	sizes *ristretto.Cache
	lock  sync.Mutex
	log   zerolog.Logger
}

// Size gets the cached size of the stream.
func (c *SizeCache) Size(url string) (int64, bool) {
	val, found := c.sizes.Get(url)
	if !found {
		return 0, false
	}
	return val.(int64), true
}

// PutSize caches the size of the stream.
func (c *SizeCache) PutSize(url string, size int64) bool {
	ok := c.sizes.Set(url, size, 1)
	if ok {
		// wait for value to pass through buffers
		waitForSet()
	}
	c.log.Debug().Str("url", url).Int64("size", size).Bool("ok", ok).Msg("put size")
	return ok
}

// GetOrFetch gets the cached size if available, otherwise stats the
// upstream and caches the result.
func (c *SizeCache) GetOrFetch(url string, fetch func() (int64, error)) (int64, error) {
	size, hit := c.Size(url)
	if hit {
		return size, nil
	}

	c.log.Debug().Str("url", url).Msg("size cache miss_1")
	c.lock.Lock()
	defer c.lock.Unlock()

	size, hit = c.Size(url)
	if hit {
		return size, nil
	}

	c.log.Debug().Str("url", url).Msg("size cache miss_2")
	size, err := fetch()
	if err != nil {
		c.log.Error().Err(err).Str("url", url).Msg("size fetch error")
		return 0, err
	}

	c.PutSize(url, size)
	return size, nil
}

func waitForSet() {
	time.Sleep(10 * time.Millisecond)
}

// NewSizeCache creates a new cache of upstream sizes.
func NewSizeCache(ctx context.Context) *SizeCache {
	log := zerolog.Ctx(ctx).With().Str("component", "sizecache").Logger()

	c := &SizeCache{log: log}

	var err error
	if c.sizes, err = ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * SizeCacheMaxCost,
		MaxCost:     SizeCacheMaxCost,
		BufferItems: 64,
	}); err != nil {
		// This will call os.Exit(1)
		log.Fatal().Err(err).Msg("failed to initialize size cache")
	}

	return c
}
