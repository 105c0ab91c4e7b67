// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package readahead

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Property keys recognized for cache parameters. The persistent key is
// consulted first.
const (
	PersistPropertyKey = "persist.sys.media.cache-params"
	SystemPropertyKey  = "media.stagefright.cache-params"
)

// envProperty resolves a property key from the environment, mapping
// "persist.sys.media.cache-params" to PERSIST_SYS_MEDIA_CACHE_PARAMS.
func envProperty(key string) string {
	return os.Getenv(strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(key, ".", "_"), "-", "_")))
}

// updateParamsFromProperties applies cache parameters from the property
// store, first match wins.
func (c *Cache) updateParamsFromProperties(get func(string) string) {
	if get == nil {
		get = envProperty
	}

	v := get(PersistPropertyKey)
	if v != "" {
		c.log.Debug().Str("key", PersistPropertyKey).Str("params", v).Msg("cache params from property")
	} else if v = get(SystemPropertyKey); v != "" {
		c.log.Debug().Str("key", SystemPropertyKey).Str("params", v).Msg("cache params from property")
	} else {
		return
	}

	c.updateParamsFromString(v)
}

// updateParamsFromString parses a "lowKB/highKB/keepAliveSecs" string
// and applies it. Negative fields select defaults; low >= high reverts
// both watermarks.
func (c *Cache) updateParamsFromString(s string) {
	var lowWaterKB, highWaterKB, keepAliveSecs int64

	if n, err := fmt.Sscanf(s, "%d/%d/%d", &lowWaterKB, &highWaterKB, &keepAliveSecs); err != nil || n != 3 {
		c.log.Error().Str("params", s).Msg("failed to parse cache parameters")
		return
	}

	if lowWaterKB >= 0 {
		c.lowWaterBytes = lowWaterKB * 1024
	} else {
		c.lowWaterBytes = DefaultLowWaterBytes
	}

	if highWaterKB >= 0 {
		c.highWaterBytes = highWaterKB * 1024
	} else {
		c.highWaterBytes = DefaultHighWaterBytes
	}

	if c.lowWaterBytes >= c.highWaterBytes {
		c.log.Error().Str("params", s).Msg("illegal low/high watermarks specified, reverting to defaults")

		c.lowWaterBytes = DefaultLowWaterBytes
		c.highWaterBytes = DefaultHighWaterBytes
	}

	if keepAliveSecs >= 0 {
		c.keepAliveInterval = time.Duration(keepAliveSecs) * time.Second
	} else {
		c.keepAliveInterval = DefaultKeepAliveInterval
	}

	c.log.Debug().
		Int64("lowWater", c.lowWaterBytes).
		Int64("highWater", c.highWaterBytes).
		Dur("keepAlive", c.keepAliveInterval).
		Msg("cache params")
}
