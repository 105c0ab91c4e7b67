// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package readahead implements a read-ahead byte-stream cache over a
// slow, seekable upstream source. A background fetcher prefetches
// ahead of the consumer's read position into a bounded window of
// fixed-size pages, hides transient upstream failures behind bounded
// retries, and keeps a rear buffer behind the consumer to absorb small
// backward seeks.
package readahead

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streamkit/streamd/internal/metrics"
	"github.com/streamkit/streamd/internal/upstream"
)

const (
	// PageSize is the capacity of a single cache page.
	PageSize = 64 * 1024

	// DefaultLowWaterBytes is the default low water threshold: when
	// fewer bytes than this are buffered ahead of the consumer, the
	// fetcher resumes.
	DefaultLowWaterBytes = 4 * 1024 * 1024

	// DefaultHighWaterBytes is the default high water threshold: when
	// the window reaches this size, the fetcher pauses.
	DefaultHighWaterBytes = 20 * 1024 * 1024

	// DefaultKeepAliveInterval is how often an idle cache refetches a
	// single page to keep the upstream connection warm.
	DefaultKeepAliveInterval = 15 * time.Second

	// grayAreaBytes is the slack kept behind the consumer so that small
	// backward seeks are served from the window without a reconnect.
	grayAreaBytes = 1024 * 1024

	// seekPaddingBytes biases a seek slightly before the requested
	// offset. In the presence of multiple decoded streams, one of them
	// triggers the seek and the other requests data "nearby" soon
	// after; the padding keeps that second request inside the window.
	seekPaddingBytes = 256 * 1024

	maxRetries = 10
)

var (
	// RetryDelay is the spacing between failed reconnect attempts.
	RetryDelay = 3 * time.Second

	// IdleDelay is the polling interval of the fetch loop while the
	// fetcher is paused.
	IdleDelay = 100 * time.Millisecond

	// ReadRetryDelay is the repost interval for a deferred read that
	// the window does not cover yet.
	ReadRetryDelay = 50 * time.Millisecond
)

var (
	// ErrAgain asks the fetcher to retry an operation later. It is also
	// what a deferred read resolves to when the cache is suspended
	// mid-read.
	ErrAgain = errors.New("readahead: try again later")

	// ErrReadTooLarge is returned for reads larger than the high water
	// threshold; such a request can never be satisfied from the window.
	ErrReadTooLarge = errors.New("readahead: read exceeds high water threshold")
)

// Config carries construction options for a Cache.
type Config struct {
	// Name labels this cache in logs and metrics, typically the
	// upstream hostname.
	Name string

	// CacheParams is a "lowKB/highKB/keepAliveSecs" string; negative
	// fields select defaults. It overrides the property store.
	CacheParams string

	// DisconnectAtHighWater tears the upstream connection down when the
	// window reaches the high water threshold.
	DisconnectAtHighWater bool

	// ProxyConfigured indicates the upstream reaches the origin through
	// a proxy; the proxy already disconnects from the origin when its
	// own cache fills, so disconnect-at-high-water is suppressed.
	ProxyConfigured bool

	// Properties resolves property keys for cache parameters. If nil,
	// environment variables are used.
	Properties func(string) string
}

type msgKind int

const (
	msgFetch msgKind = iota
	msgRead
)

type message struct {
	kind msgKind
	req  *readRequest
}

type readRequest struct {
	off int64
	dst []byte
}

type readResult struct {
	n   int
	err error
}

// Cache is a read-ahead cache over one upstream source serving one
// logical reader. Concurrent ReadAt calls are serialized.
type Cache struct {
	src  upstream.Source
	name string
	log  zerolog.Logger

	mu   sync.Mutex
	cond *sync.Cond

	pool   *pagePool
	window *window

	// baseOffset is the upstream offset of the first byte in the window.
	baseOffset int64

	// lastAccessPos is the upstream offset just past the last consumer
	// read. The fast path of ReadAt moves it under mu while the fetcher
	// reads it for its watermark checks; the watermark is deliberately
	// approximate under that interleaving.
	lastAccessPos int64

	// finalErr is nil while fetching proceeds normally. io.EOF, a
	// transient or permanent upstream error, or ErrAgain (reconnect
	// pending after a deliberate disconnect, or suspended) otherwise.
	finalErr error

	retriesLeft   int
	fetching      bool
	disconnecting bool
	suspended     bool
	lastFetchTime time.Time

	lowWaterBytes     int64
	highWaterBytes    int64
	keepAliveInterval time.Duration

	disconnectAtHighWater bool
	proxyConfigured       bool
	queryProxy            bool

	pending *readResult

	// serializer is held for the duration of one ReadAt call; the cache
	// supports only one logical reader.
	serializer sync.Mutex

	msgCh     chan message
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New creates a cache bound to the given upstream source and starts its
// fetcher. The fetcher runs until Close.
func New(ctx context.Context, src upstream.Source, cfg Config) *Cache {
	name := cfg.Name
	if name == "" {
		name = "upstream"
	}

	c := &Cache{
		src:                   src,
		name:                  name,
		log:                   zerolog.Ctx(ctx).With().Str("component", "readahead").Str("name", name).Logger(),
		pool:                  newPagePool(PageSize),
		window:                &window{},
		retriesLeft:           maxRetries,
		fetching:              true,
		lowWaterBytes:         DefaultLowWaterBytes,
		highWaterBytes:        DefaultHighWaterBytes,
		keepAliveInterval:     DefaultKeepAliveInterval,
		disconnectAtHighWater: cfg.DisconnectAtHighWater,
		proxyConfigured:       cfg.ProxyConfigured,
		msgCh:                 make(chan message, 16),
		doneCh:                make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)

	c.updateParamsFromProperties(cfg.Properties)

	if cfg.CacheParams != "" {
		c.updateParamsFromString(cfg.CacheParams)
	}

	// Don't disconnect if a proxy is configured, to avoid flushing data
	// already cached at the proxy; the proxy disconnects from the
	// origin once its own cache fills.
	if c.disconnectAtHighWater && !c.proxyConfigured {
		// Makes no sense to disconnect and do keep-alives...
		c.keepAliveInterval = 0
	}

	go c.loop()
	c.post(message{kind: msgFetch}, 0)

	return c
}

// ReadAt reads len(p) bytes at offset off through the cache. It serves
// from the window when possible and otherwise defers to the fetcher,
// blocking until the read completes or the cache disconnects. After
// Disconnect it returns io.EOF.
func (c *Cache) ReadAt(p []byte, off int64) (int, error) {
	c.serializer.Lock()
	defer c.serializer.Unlock()

	startTime := time.Now()

	c.mu.Lock()
	if c.disconnecting {
		c.mu.Unlock()
		metrics.Global.RecordCacheRead(metrics.CacheReadEOF, time.Since(startTime).Seconds())
		return 0, io.EOF
	}

	// If the request can be completely satisfied from the window, do so.
	if off >= c.baseOffset && off+int64(len(p)) <= c.baseOffset+c.window.totalSize() {
		c.window.copy(off-c.baseOffset, p)
		c.lastAccessPos = off + int64(len(p))
		c.mu.Unlock()

		metrics.Global.RecordCacheRead(metrics.CacheReadHit, time.Since(startTime).Seconds())
		return len(p), nil
	}
	c.mu.Unlock()

	c.post(message{kind: msgRead, req: &readRequest{off: off, dst: p}}, 0)

	c.mu.Lock()
	for c.pending == nil && !c.disconnecting {
		c.cond.Wait()
	}

	if c.disconnecting {
		c.pending = nil
		c.mu.Unlock()
		metrics.Global.RecordCacheRead(metrics.CacheReadEOF, time.Since(startTime).Seconds())
		return 0, io.EOF
	}

	res := c.pending
	c.pending = nil

	if res.n > 0 {
		c.lastAccessPos = off + int64(res.n)
	}
	c.mu.Unlock()

	outcome := metrics.CacheReadDeferred
	if errors.Is(res.err, io.EOF) {
		outcome = metrics.CacheReadEOF
	} else if res.err != nil {
		outcome = metrics.CacheReadError
	}
	metrics.Global.RecordCacheRead(outcome, time.Since(startTime).Seconds())

	return res.n, res.err
}

// Disconnect moves the cache into its terminal state: the fetch loop
// winds down, any blocked ReadAt returns promptly and all subsequent
// reads resolve as io.EOF. It also hints the upstream to unblock its
// pending I/O.
func (c *Cache) Disconnect() {
	c.mu.Lock()
	// If a fetch returns after this, the stream will be marked as EOS.
	c.disconnecting = true

	// Explicitly signal cond so that a pending ReadAt returns immediately.
	c.cond.Signal()
	c.mu.Unlock()

	// Explicitly disconnect from the source, to allow any pending reads
	// to return more promptly.
	c.src.Disconnect()
}

// Close stops the fetcher and releases the task queue. The cache must
// not be used afterwards.
func (c *Cache) Close() {
	c.Disconnect()
	c.closeOnce.Do(func() {
		close(c.doneCh)
	})
}

// Suspend pauses the cache: the next fetch tick disconnects the
// upstream and stops scheduling until Resume. Cached state is kept.
// The pending-reconnect sentinel doubles as the suspended status; the
// next fetch tick resolves both the same way.
func (c *Cache) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.finalErr = ErrAgain
	c.suspended = true
}

// Resume restarts fetching after Suspend.
func (c *Cache) Resume() {
	c.mu.Lock()
	c.suspended = false
	c.mu.Unlock()

	// Begin to connect again and fetch more data.
	c.post(message{kind: msgFetch}, 0)
}

// ResumeFetching restarts the prefetcher even when the consumer has not
// drained past the low water threshold.
func (c *Cache) ResumeFetching() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.maybeRestartPrefetcher(true /* ignore low water threshold */, false)
}

// CachedSize returns the upper bound of the cached stream position.
func (c *Cache) CachedSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseOffset + c.window.totalSize()
}

// ApproxDataRemaining returns the number of buffered bytes ahead of the
// consumer and the cache status. The status stays nil while retries
// remain, hiding transient failures from the consumer until the cache
// truly gives up.
func (c *Cache) ApproxDataRemaining() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	finalErr := c.finalErr
	if c.finalErr != nil && c.retriesLeft > 0 {
		// Pretend that everything is fine until we're out of retries.
		finalErr = nil
	}

	lastBytePosCached := c.baseOffset + c.window.totalSize()
	if c.lastAccessPos < lastBytePosCached {
		return lastBytePosCached - c.lastAccessPos, finalErr
	}
	return 0, finalErr
}

// Size returns the total length of the upstream stream.
func (c *Cache) Size() (int64, error) {
	return c.src.Size()
}

// Flags advertises the cache as a caching source; the HTTP and
// prefetching flags of the upstream are masked out since the cache
// replaces those behaviors.
func (c *Cache) Flags() upstream.Flags {
	return c.src.Flags()&^(upstream.FlagWantsPrefetching|upstream.FlagHTTPBased) | upstream.FlagCaching
}

// UpdateCacheParams adjusts the watermark and keep-alive parameters at
// runtime from a "lowKB/highKB/keepAliveSecs" string.
func (c *Cache) UpdateCacheParams(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateParamsFromString(s)
}

// post enqueues a message for the fetcher after the given delay.
func (c *Cache) post(m message, delay time.Duration) {
	if delay <= 0 {
		go c.send(m)
		return
	}
	time.AfterFunc(delay, func() {
		c.send(m)
	})
}

func (c *Cache) send(m message) {
	select {
	case c.msgCh <- m:
	case <-c.doneCh:
	}
}

// loop drains the fetcher's message queue until Close.
func (c *Cache) loop() {
	for {
		select {
		case <-c.doneCh:
			return
		case m := <-c.msgCh:
			switch m.kind {
			case msgFetch:
				c.onFetch()
			case msgRead:
				c.onRead(m.req)
			}
		}
	}
}
