package readahead

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/streamkit/streamd/internal/upstream"
	"github.com/streamkit/streamd/internal/upstream/tests"
)

var errTransient = errors.New("connection reset by upstream")

func newRandomData(n int) []byte {
	d := make([]byte, n)
	_, _ = rand.Read(d)
	return d
}

func newTestCache(t *testing.T, src upstream.Source, cfg Config) *Cache {
	t.Helper()
	ctx := zerolog.Nop().WithContext(context.Background())
	c := New(ctx, src, cfg)
	t.Cleanup(c.Close)
	return c
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %v", d, msg)
}

func snapshot(c *Cache) (baseOffset, totalSize, lastAccessPos int64, finalErr error, retriesLeft int, fetching bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseOffset, c.window.totalSize(), c.lastAccessPos, c.finalErr, c.retriesLeft, c.fetching
}

// checkWindowInvariants verifies that totalSize matches the page sum
// and that only the tail page may be partially filled.
func checkWindowInvariants(t *testing.T, c *Cache) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var sum int64
	for i, p := range c.window.pages {
		if p.used <= 0 {
			t.Errorf("page %v is empty", i)
		}
		if i < len(c.window.pages)-1 && p.used != PageSize {
			t.Errorf("interior page %v is partial: %v", i, p.used)
		}
		sum += int64(p.used)
	}

	if sum != c.window.totalSize() {
		t.Errorf("window totalSize mismatch, expected: %v, got: %v", sum, c.window.totalSize())
	}
}

func TestReadFromWindow(t *testing.T) {
	data := newRandomData(1024 * 1024)
	src := tests.NewMockSource(data)
	c := newTestCache(t, src, Config{CacheParams: "16/64/15"})

	eventually(t, 2*time.Second, func() bool { return c.CachedSize() >= 65536 }, "cache did not fill to high water")

	buf := make([]byte, 4096)
	n, err := c.ReadAt(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4096 {
		t.Fatalf("expected: 4096, got: %v", n)
	}
	if !bytes.Equal(buf, data[:4096]) {
		t.Error("read bytes do not match upstream")
	}

	if got := c.CachedSize(); got < 65536 {
		t.Errorf("expected cached size >= 65536, got: %v", got)
	}

	checkWindowInvariants(t, c)
}

func TestRearBufferSeekIssuesNoUpstreamRead(t *testing.T) {
	data := newRandomData(1024 * 1024)
	src := tests.NewMockSource(data)
	c := newTestCache(t, src, Config{})

	// Wait for the whole stream to be cached.
	eventually(t, 5*time.Second, func() bool {
		_, _, _, finalErr, _, _ := snapshot(c)
		return errors.Is(finalErr, io.EOF)
	}, "cache did not reach eos")

	buf := make([]byte, 32768)
	for i := 0; i < 8; i++ {
		n, err := c.ReadAt(buf, int64(i*32768))
		if err != nil || n != 32768 {
			t.Fatalf("sequential read %v: expected: 32768, got: %v, %v", i, n, err)
		}
	}

	reads := src.Reads()

	n, err := c.ReadAt(buf[:4096], 16384)
	if err != nil || n != 4096 {
		t.Fatalf("expected: 4096, got: %v, %v", n, err)
	}
	if !bytes.Equal(buf[:4096], data[16384:20480]) {
		t.Error("read bytes do not match upstream")
	}

	if got := src.Reads(); got != reads {
		t.Errorf("rear buffer read issued upstream reads, before: %v, after: %v", reads, got)
	}
}

func TestForwardSeekBeyondWindow(t *testing.T) {
	data := newRandomData(8 * 1024 * 1024)
	src := tests.NewMockSource(data)
	src.SetReadDelay(2 * time.Millisecond)
	c := newTestCache(t, src, Config{})

	eventually(t, 2*time.Second, func() bool { return c.CachedSize() >= 4096 }, "cache did not start filling")

	buf := make([]byte, 4096)
	if n, err := c.ReadAt(buf, 0); err != nil || n != 4096 {
		t.Fatalf("expected: 4096, got: %v, %v", n, err)
	}

	off := int64(5_000_000)
	n, err := c.ReadAt(buf, off)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4096 {
		t.Fatalf("expected: 4096, got: %v", n)
	}
	if !bytes.Equal(buf, data[off:off+4096]) {
		t.Error("read bytes do not match upstream")
	}

	baseOffset, _, _, _, _, _ := snapshot(c)
	if want := off - seekPaddingBytes; baseOffset != want {
		t.Errorf("expected baseOffset: %v, got: %v", want, baseOffset)
	}

	checkWindowInvariants(t, c)
}

func TestTransientFailureRetries(t *testing.T) {
	defer func(d time.Duration) { RetryDelay = d }(RetryDelay)
	RetryDelay = 10 * time.Millisecond

	data := newRandomData(8 * 1024 * 1024)
	src := tests.NewMockSource(data)
	src.SetReadDelay(time.Millisecond)
	src.FailReads(errTransient, errTransient, errTransient)
	c := newTestCache(t, src, Config{})

	stop := make(chan struct{})
	monDone := make(chan struct{})
	go func() {
		defer close(monDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := c.ApproxDataRemaining(); err != nil {
				t.Errorf("transient failure surfaced to the consumer: %v", err)
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	buf := make([]byte, 65536)
	n, err := c.ReadAt(buf, 500_000)
	close(stop)
	<-monDone

	if err != nil {
		t.Fatal(err)
	}
	if n != 65536 {
		t.Fatalf("expected: 65536, got: %v", n)
	}
	if !bytes.Equal(buf, data[500_000:565_536]) {
		t.Error("read bytes do not match upstream")
	}

	_, _, _, _, retriesLeft, _ := snapshot(c)
	if retriesLeft != maxRetries {
		t.Errorf("expected retries to be reset to %v, got: %v", maxRetries, retriesLeft)
	}
}

func TestPermanentFailure(t *testing.T) {
	defer func(d time.Duration) { RetryDelay = d }(RetryDelay)
	RetryDelay = 10 * time.Millisecond

	src := tests.NewMockSource(nil)
	for i := 0; i < 64; i++ {
		src.FailReads(upstream.ErrUnsupported)
		src.FailReconnects(upstream.ErrUnsupported)
	}
	c := newTestCache(t, src, Config{})

	buf := make([]byte, 4096)
	start := time.Now()
	n, err := c.ReadAt(buf, 500_000)
	if !errors.Is(err, upstream.ErrUnsupported) {
		t.Fatalf("expected: %v, got: %v, n=%v", upstream.ErrUnsupported, err, n)
	}
	if n != 0 {
		t.Errorf("expected: 0, got: %v", n)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("permanent failure was not prompt: %v", time.Since(start))
	}

	_, _, _, _, retriesLeft, _ := snapshot(c)
	if retriesLeft != 0 {
		t.Errorf("expected: 0 retries left, got: %v", retriesLeft)
	}
}

func TestEOFShortTail(t *testing.T) {
	data := newRandomData(100_000)
	src := tests.NewMockSource(data)
	c := newTestCache(t, src, Config{})

	eventually(t, 5*time.Second, func() bool {
		_, _, _, finalErr, _, _ := snapshot(c)
		return errors.Is(finalErr, io.EOF)
	}, "cache did not reach eos")

	buf := make([]byte, 4096)
	n, err := c.ReadAt(buf, 99_000)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1000 {
		t.Fatalf("expected: 1000, got: %v", n)
	}
	if !bytes.Equal(buf[:1000], data[99_000:]) {
		t.Error("read bytes do not match upstream")
	}

	n, err = c.ReadAt(buf[:1], 100_000)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected: EOF, got: %v", err)
	}
	if n != 0 {
		t.Errorf("expected: 0, got: %v", n)
	}

	checkWindowInvariants(t, c)
}

func TestDisconnectFinality(t *testing.T) {
	data := newRandomData(1024 * 1024)
	src := tests.NewMockSource(data)
	src.Block()
	c := newTestCache(t, src, Config{})

	readDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		_, err := c.ReadAt(buf, 500_000)
		readDone <- err
	}()

	time.Sleep(50 * time.Millisecond)
	c.Disconnect()

	select {
	case err := <-readDone:
		if !errors.Is(err, io.EOF) {
			t.Errorf("expected: EOF, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked read was not unblocked by disconnect")
	}

	if src.Disconnects() == 0 {
		t.Error("expected upstream disconnect")
	}

	// Every subsequent read resolves as EOF.
	buf := make([]byte, 16)
	for i := 0; i < 3; i++ {
		n, err := c.ReadAt(buf, int64(i*100))
		if n != 0 || !errors.Is(err, io.EOF) {
			t.Errorf("read after disconnect: expected EOF, got: %v, %v", n, err)
		}
	}
}

func TestSeekIdempotence(t *testing.T) {
	data := newRandomData(1024 * 1024)
	src := tests.NewMockSource(data)
	c := newTestCache(t, src, Config{})

	eventually(t, 5*time.Second, func() bool {
		_, _, _, finalErr, _, _ := snapshot(c)
		return errors.Is(finalErr, io.EOF)
	}, "cache did not reach eos")

	buf := make([]byte, 4096)
	if _, err := c.ReadAt(buf, 8192); err != nil {
		t.Fatal(err)
	}

	baseBefore, totalBefore, lastAccess, _, _, _ := snapshot(c)

	c.mu.Lock()
	c.seekInternal(lastAccess)
	c.mu.Unlock()

	baseAfter, totalAfter, _, _, _, _ := snapshot(c)
	if baseAfter != baseBefore || totalAfter != totalBefore {
		t.Errorf("seek to lastAccessPos changed the window: base %v -> %v, total %v -> %v",
			baseBefore, baseAfter, totalBefore, totalAfter)
	}
}

func TestSuspendResume(t *testing.T) {
	data := newRandomData(4 * 1024 * 1024)
	src := tests.NewMockSource(data)
	src.SetReadDelay(2 * time.Millisecond)
	c := newTestCache(t, src, Config{})

	eventually(t, 2*time.Second, func() bool { return c.CachedSize() > 0 }, "cache did not start filling")

	c.Suspend()

	eventually(t, 2*time.Second, func() bool { return src.Disconnects() > 0 }, "suspend did not disconnect upstream")

	// The fetch loop stops scheduling; the cached size settles.
	settled := c.CachedSize()
	time.Sleep(300 * time.Millisecond)
	if got := c.CachedSize(); got != settled {
		t.Fatalf("cache kept fetching while suspended: %v -> %v", settled, got)
	}

	c.Resume()

	eventually(t, 2*time.Second, func() bool { return c.CachedSize() > settled }, "cache did not resume fetching")
}

func TestKeepAlive(t *testing.T) {
	data := newRandomData(1024 * 1024)
	src := tests.NewMockSource(data)
	c := newTestCache(t, src, Config{CacheParams: "16/64/1"})

	eventually(t, 2*time.Second, func() bool {
		_, _, _, _, _, fetching := snapshot(c)
		return !fetching && c.CachedSize() >= 65536
	}, "cache did not pause at high water")

	reads := src.Reads()

	eventually(t, 3*time.Second, func() bool { return src.Reads() > reads }, "keep-alive fetch did not happen")
}

func TestUpdateCacheParams(t *testing.T) {
	src := tests.NewMockSource(newRandomData(1024))
	c := newTestCache(t, src, Config{})

	c.UpdateCacheParams("100/200/30")

	c.mu.Lock()
	low, high, keepAlive := c.lowWaterBytes, c.highWaterBytes, c.keepAliveInterval
	c.mu.Unlock()

	if low != 100*1024 || high != 200*1024 || keepAlive != 30*time.Second {
		t.Errorf("expected: 102400/204800/30s, got: %v/%v/%v", low, high, keepAlive)
	}

	// Illegal watermarks revert both.
	c.UpdateCacheParams("500/100/30")

	c.mu.Lock()
	low, high = c.lowWaterBytes, c.highWaterBytes
	c.mu.Unlock()

	if low != DefaultLowWaterBytes || high != DefaultHighWaterBytes {
		t.Errorf("expected defaults after illegal watermarks, got: %v/%v", low, high)
	}

	// Negative fields select defaults.
	c.UpdateCacheParams("-1/-1/-1")

	c.mu.Lock()
	low, high, keepAlive = c.lowWaterBytes, c.highWaterBytes, c.keepAliveInterval
	c.mu.Unlock()

	if low != DefaultLowWaterBytes || high != DefaultHighWaterBytes || keepAlive != DefaultKeepAliveInterval {
		t.Errorf("expected defaults, got: %v/%v/%v", low, high, keepAlive)
	}
}

func TestApproxDataRemaining(t *testing.T) {
	data := newRandomData(1024 * 1024)
	src := tests.NewMockSource(data)
	c := newTestCache(t, src, Config{})

	eventually(t, 5*time.Second, func() bool {
		_, _, _, finalErr, _, _ := snapshot(c)
		return errors.Is(finalErr, io.EOF)
	}, "cache did not reach eos")

	buf := make([]byte, 4096)
	if _, err := c.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}

	remaining, err := c.ApproxDataRemaining()
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF status at eos with no retries left, got: %v", err)
	}
	if want := int64(len(data) - 4096); remaining != want {
		t.Errorf("expected: %v, got: %v", want, remaining)
	}
}

func TestReadTooLarge(t *testing.T) {
	data := newRandomData(1024 * 1024)
	src := tests.NewMockSource(data)
	c := newTestCache(t, src, Config{CacheParams: "16/64/15"})

	buf := make([]byte, 128*1024)
	_, err := c.ReadAt(buf, 500_000)
	if !errors.Is(err, ErrReadTooLarge) {
		t.Fatalf("expected: %v, got: %v", ErrReadTooLarge, err)
	}
}

func TestFlags(t *testing.T) {
	src := tests.NewMockSource(nil)
	c := newTestCache(t, src, Config{})

	got := c.Flags()
	if got&upstream.FlagCaching == 0 {
		t.Error("expected caching flag to be set")
	}
	if got&(upstream.FlagHTTPBased|upstream.FlagWantsPrefetching) != 0 {
		t.Error("expected HTTP and prefetching flags to be masked out")
	}
}

func TestSize(t *testing.T) {
	data := newRandomData(123456)
	src := tests.NewMockSource(data)
	c := newTestCache(t, src, Config{})

	got, err := c.Size()
	if err != nil {
		t.Fatal(err)
	}
	if got != 123456 {
		t.Errorf("expected: 123456, got: %v", got)
	}
}

func TestReadThroughLaw(t *testing.T) {
	data := newRandomData(512 * 1024)
	src := tests.NewMockSource(data)
	c := newTestCache(t, src, Config{})

	eventually(t, 5*time.Second, func() bool {
		_, _, _, finalErr, _, _ := snapshot(c)
		return errors.Is(finalErr, io.EOF)
	}, "cache did not reach eos")

	// Strictly increasing, non-overlapping ranges read back exactly the
	// upstream bytes.
	offsets := []struct{ off, size int64 }{
		{0, 1}, {1, 4095}, {4096, 32768}, {100_000, 511}, {262_144, 65536},
	}
	for _, r := range offsets {
		t.Run(fmt.Sprintf("%v+%v", r.off, r.size), func(t *testing.T) {
			buf := make([]byte, r.size)
			n, err := c.ReadAt(buf, r.off)
			if err != nil {
				t.Fatal(err)
			}
			if int64(n) != r.size {
				t.Fatalf("expected: %v, got: %v", r.size, n)
			}
			if !bytes.Equal(buf, data[r.off:r.off+r.size]) {
				t.Error("read bytes do not match upstream")
			}
		})
	}
}
