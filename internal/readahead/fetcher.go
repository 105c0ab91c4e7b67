// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package readahead

import (
	"errors"
	"io"
	"syscall"
	"time"

	"github.com/streamkit/streamd/internal/metrics"
	"github.com/streamkit/streamd/internal/upstream"
	"github.com/streamkit/streamd/pkg/math"
)

// permanent reports whether err is an upstream error that is not likely
// to go away on retry, i.e. the server doesn't support range requests
// or similar.
func permanent(err error) bool {
	return errors.Is(err, upstream.ErrUnsupported) || errors.Is(err, syscall.EPIPE)
}

// fetchInternal performs one fetch step: reconnect if the previous step
// failed, then pull one page from the upstream into the window. No
// locks are held across upstream I/O.
func (c *Cache) fetchInternal() {
	reconnect := false
	queryProxy := false

	c.mu.Lock()
	if c.finalErr != nil {
		c.retriesLeft--
		reconnect = true
		queryProxy = c.queryProxy
	}
	off := c.baseOffset + c.window.totalSize()
	suspended := c.suspended
	c.mu.Unlock()

	if reconnect && !suspended {
		metrics.Global.RecordRetry(c.name, "reconnect")
		err := c.src.ReconnectAt(off, &queryProxy)

		c.mu.Lock()

		// If a proxy was configured but its re-configuration failed on
		// reconnect, fall back to normal no-proxy behaviour.
		if c.proxyConfigured && !queryProxy && c.disconnectAtHighWater {
			c.keepAliveInterval = 0
		}
		c.proxyConfigured = queryProxy
		c.queryProxy = queryProxy

		if c.disconnecting {
			c.retriesLeft = 0
			c.finalErr = io.EOF
			c.mu.Unlock()
			return
		} else if permanent(err) {
			c.retriesLeft = 0
			c.mu.Unlock()
			return
		} else if err != nil {
			c.log.Info().Err(err).Int("retriesLeft", c.retriesLeft).Msg("the attempt to reconnect failed")
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	page := c.pool.acquire()
	off = c.baseOffset + c.window.totalSize()
	c.mu.Unlock()

	n, err := c.src.ReadAt(page.buf[:PageSize], off)

	c.mu.Lock()
	defer c.mu.Unlock()

	if (n == 0 && (err == nil || errors.Is(err, io.EOF))) || c.disconnecting {
		c.log.Info().Msg("caching reached eos")

		c.retriesLeft = 0
		c.finalErr = io.EOF

		c.pool.release(page)
	} else if err != nil && n <= 0 {
		c.finalErr = err
		if permanent(err) {
			c.retriesLeft = 0
		}

		c.log.Error().Err(err).Int("retriesLeft", c.retriesLeft).Msg("upstream returned error")
		c.pool.release(page)
	} else {
		if c.finalErr != nil {
			c.log.Info().Msg("retrying a previously failed read succeeded")
		}
		c.retriesLeft = maxRetries
		c.finalErr = nil

		page.used = n
		c.window.appendPage(page)
	}
}

// onFetch is one tick of the fetch loop: fetch or keep-alive, check the
// high water threshold, and schedule the next tick.
func (c *Cache) onFetch() {
	c.mu.Lock()

	if c.finalErr != nil && c.retriesLeft == 0 {
		c.log.Debug().Msg("eos reached, done prefetching for now")
		c.fetching = false
	}

	// A proxy restart may cause the read failure; ask for proxy
	// re-configuration on the upcoming reconnect if one was configured.
	if c.finalErr != nil && c.retriesLeft > 0 && c.proxyConfigured {
		c.queryProxy = true
	}

	keepAlive := !c.fetching &&
		c.finalErr == nil &&
		c.keepAliveInterval > 0 &&
		time.Since(c.lastFetchTime) >= c.keepAliveInterval

	fetching := c.fetching
	c.mu.Unlock()

	if fetching || keepAlive {
		if keepAlive {
			c.log.Info().Msg("keep alive")
		}

		c.fetchInternal()

		c.mu.Lock()
		c.lastFetchTime = time.Now()

		if c.fetching && c.window.totalSize() >= c.highWaterBytes {
			c.log.Info().Int64("totalSize", c.window.totalSize()).Msg("cache full, done prefetching for now")
			c.fetching = false

			if c.disconnectAtHighWater && c.src.Flags()&upstream.FlagHTTPBased != 0 && !c.proxyConfigured {
				c.log.Debug().Msg("disconnecting at high water threshold")
				c.mu.Unlock()
				c.src.Disconnect()
				c.mu.Lock()
				c.finalErr = ErrAgain
			}
		}
		c.mu.Unlock()
	} else {
		c.mu.Lock()
		c.maybeRestartPrefetcher(false, false)
		c.mu.Unlock()
	}

	c.mu.Lock()
	var delay time.Duration
	if c.fetching {
		if c.finalErr != nil && c.retriesLeft > 0 {
			// We failed this time and will try again after the retry delay.
			delay = RetryDelay
		} else {
			delay = 0
		}
	} else {
		delay = IdleDelay
	}
	suspended := c.suspended
	c.mu.Unlock()

	if suspended {
		c.log.Debug().Msg("disconnect for suspend")
		c.src.Disconnect()
		c.mu.Lock()
		c.finalErr = ErrAgain
		c.mu.Unlock()
		return
	}

	c.post(message{kind: msgFetch}, delay)
}

// maybeRestartPrefetcher trims the window behind the consumer and
// resumes fetching when the buffered bytes ahead of the consumer drop
// below the low water threshold. A gray area is kept behind the
// consumer to absorb small backward seeks without a reconnect; force
// reclaims it too. Without force, nothing is trimmed and fetching does
// not resume while less than the gray area lies behind the consumer.
// Callers must hold c.mu.
func (c *Cache) maybeRestartPrefetcher(ignoreLowWater, force bool) {
	if c.fetching || (c.finalErr != nil && c.retriesLeft == 0) {
		return
	}

	if !ignoreLowWater && !force &&
		c.baseOffset+c.window.totalSize()-c.lastAccessPos >= c.lowWaterBytes {
		return
	}

	maxBytes := c.lastAccessPos - c.baseOffset

	if !force {
		if maxBytes < grayAreaBytes {
			return
		}

		maxBytes -= grayAreaBytes
	}

	actualBytes := c.window.releaseFromStart(c.pool, maxBytes)
	c.baseOffset += actualBytes

	c.log.Info().Int64("totalSize", c.window.totalSize()).Msg("restarting prefetcher")
	c.fetching = true
}

// onRead completes a deferred read on the fetcher. While the window
// does not cover the request yet, the read is reposted until it does,
// the cache disconnects, or it suspends.
func (c *Cache) onRead(req *readRequest) {
	n, err := c.readInternal(req.off, req.dst)

	if errors.Is(err, ErrAgain) {
		c.mu.Lock()
		disconnecting, suspended := c.disconnecting, c.suspended
		c.mu.Unlock()

		if !disconnecting && !suspended {
			c.post(message{kind: msgRead, req: req}, ReadRetryDelay)
			return
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disconnecting {
		c.cond.Signal()
		return
	}

	c.pending = &readResult{n: n, err: err}
	c.cond.Signal()
}

// readInternal is the slow-path read: pivot the window toward the
// requested offset, seeking if it lies outside, then serve from the
// window or return ErrAgain until prefetch catches up.
func (c *Cache) readInternal(off int64, dst []byte) (int, error) {
	size := int64(len(dst))

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.highWaterBytes {
		return 0, ErrReadTooLarge
	}

	if !c.fetching {
		c.lastAccessPos = off
		c.maybeRestartPrefetcher(false /* ignoreLowWater */, true /* force */)
	}

	if off < c.baseOffset || off >= c.baseOffset+c.window.totalSize() {
		c.seekInternal(math.Max(off-seekPaddingBytes, 0))
	}

	delta := off - c.baseOffset

	if c.finalErr != nil && c.retriesLeft == 0 {
		if delta >= c.window.totalSize() {
			return 0, c.finalErr
		}

		avail := math.Min(c.window.totalSize()-delta, size)

		c.window.copy(delta, dst[:avail])
		return int(avail), nil
	}

	if off+size <= c.baseOffset+c.window.totalSize() {
		c.window.copy(delta, dst[:size])
		return int(size), nil
	}

	c.log.Debug().Int64("offset", off).Msg("deferring read")
	return 0, ErrAgain
}

// seekInternal pivots the window to a new base offset, releasing all
// pages unless the offset already falls inside the window. Callers must
// hold c.mu.
func (c *Cache) seekInternal(off int64) {
	c.lastAccessPos = off

	if off >= c.baseOffset && off <= c.baseOffset+c.window.totalSize() {
		return
	}

	c.log.Info().Int64("offset", off).Msg("new cached range")

	c.baseOffset = off
	c.window.releaseFromStart(c.pool, c.window.totalSize())

	c.retriesLeft = maxRetries
	c.fetching = true
}
