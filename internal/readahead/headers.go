// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package readahead

import "net/http"

// Request headers recognized by the cache.
const (
	CacheConfigHeaderKey           = "x-cache-config"
	DisconnectAtHighWaterHeaderKey = "x-disconnect-at-highwatermark"
)

// ExtractCacheHeaders returns the cache configuration carried in the
// given headers and removes those headers, so they are not forwarded
// upstream.
func ExtractCacheHeaders(h http.Header) (cacheConfig string, disconnectAtHighWater bool) {
	if h == nil {
		return "", false
	}

	if _, ok := h[http.CanonicalHeaderKey(CacheConfigHeaderKey)]; ok {
		cacheConfig = h.Get(CacheConfigHeaderKey)
		h.Del(CacheConfigHeaderKey)
	}

	if _, ok := h[http.CanonicalHeaderKey(DisconnectAtHighWaterHeaderKey)]; ok {
		disconnectAtHighWater = true
		h.Del(DisconnectAtHighWaterHeaderKey)
	}

	return cacheConfig, disconnectAtHighWater
}
