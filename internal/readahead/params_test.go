package readahead

import (
	"testing"
	"time"

	"github.com/streamkit/streamd/internal/upstream"
	"github.com/streamkit/streamd/internal/upstream/tests"
)

func newParamsTestSource() upstream.Source {
	return tests.NewMockSource(nil)
}

func TestParamsFromConfig(t *testing.T) {
	src := newParamsTestSource()
	c := newTestCache(t, src, Config{CacheParams: "64/1024/5"})

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lowWaterBytes != 64*1024 {
		t.Errorf("expected: %v, got: %v", 64*1024, c.lowWaterBytes)
	}
	if c.highWaterBytes != 1024*1024 {
		t.Errorf("expected: %v, got: %v", 1024*1024, c.highWaterBytes)
	}
	if c.keepAliveInterval != 5*time.Second {
		t.Errorf("expected: 5s, got: %v", c.keepAliveInterval)
	}
}

func TestParamsFromProperties(t *testing.T) {
	type tc struct {
		name      string
		props     map[string]string
		wantLow   int64
		wantHigh  int64
		wantAlive time.Duration
	}

	tcs := []tc{
		{
			name:      "none",
			props:     map[string]string{},
			wantLow:   DefaultLowWaterBytes,
			wantHigh:  DefaultHighWaterBytes,
			wantAlive: DefaultKeepAliveInterval,
		},
		{
			name:      "persist-key",
			props:     map[string]string{PersistPropertyKey: "32/128/3"},
			wantLow:   32 * 1024,
			wantHigh:  128 * 1024,
			wantAlive: 3 * time.Second,
		},
		{
			name:      "system-key",
			props:     map[string]string{SystemPropertyKey: "16/64/0"},
			wantLow:   16 * 1024,
			wantHigh:  64 * 1024,
			wantAlive: 0,
		},
		{
			name: "persist-key-wins",
			props: map[string]string{
				PersistPropertyKey: "32/128/3",
				SystemPropertyKey:  "16/64/0",
			},
			wantLow:   32 * 1024,
			wantHigh:  128 * 1024,
			wantAlive: 3 * time.Second,
		},
		{
			name:      "unparseable-ignored",
			props:     map[string]string{PersistPropertyKey: "banana"},
			wantLow:   DefaultLowWaterBytes,
			wantHigh:  DefaultHighWaterBytes,
			wantAlive: DefaultKeepAliveInterval,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			src := newParamsTestSource()
			c := newTestCache(t, src, Config{Properties: func(k string) string { return tc.props[k] }})

			c.mu.Lock()
			defer c.mu.Unlock()

			if c.lowWaterBytes != tc.wantLow {
				t.Errorf("low water expected: %v, got: %v", tc.wantLow, c.lowWaterBytes)
			}
			if c.highWaterBytes != tc.wantHigh {
				t.Errorf("high water expected: %v, got: %v", tc.wantHigh, c.highWaterBytes)
			}
			if c.keepAliveInterval != tc.wantAlive {
				t.Errorf("keep alive expected: %v, got: %v", tc.wantAlive, c.keepAliveInterval)
			}
		})
	}
}

func TestDisconnectAtHighWaterDisablesKeepAlive(t *testing.T) {
	src := newParamsTestSource()
	c := newTestCache(t, src, Config{DisconnectAtHighWater: true})

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keepAliveInterval != 0 {
		t.Errorf("expected keep-alive to be disabled, got: %v", c.keepAliveInterval)
	}
}

func TestDisconnectAtHighWaterKeepsKeepAliveBehindProxy(t *testing.T) {
	src := newParamsTestSource()
	c := newTestCache(t, src, Config{DisconnectAtHighWater: true, ProxyConfigured: true})

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keepAliveInterval != DefaultKeepAliveInterval {
		t.Errorf("expected: %v, got: %v", DefaultKeepAliveInterval, c.keepAliveInterval)
	}
}
