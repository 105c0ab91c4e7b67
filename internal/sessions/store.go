// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package sessions

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	syncmap "github.com/streamkit/streamd/internal/cache"
	streamcontext "github.com/streamkit/streamd/internal/context"
	"github.com/streamkit/streamd/internal/readahead"
	"github.com/streamkit/streamd/internal/upstream"
)

var errNoStreamUrl = errors.New("no stream url in request")

// NewStore creates a new session store.
func NewStore(ctx context.Context) Store {
	return &store{
		ctx:      ctx,
		sessions: syncmap.MakeSyncMap[*session](MaxSessions),
		sizes:    upstream.NewSizeCache(ctx),
		client:   &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		log:      zerolog.Ctx(ctx).With().Str("component", "sessions").Logger(),
	}
}

// store describes a set of stream sessions, created lazily per URL.
type store struct {
	ctx      context.Context
	sessions *syncmap.SyncMap[*session]
	lock     sync.Mutex
	sizes    *upstream.SizeCache
	client   *http.Client
	log      zerolog.Logger
}

var _ Store = &store{}

// Open opens the requested stream, creating its session on first use.
// The cache-specific request headers configure the new session and are
// not forwarded upstream.
func (s *store) Open(c *gin.Context) (Stream, error) {
	u := streamcontext.StreamUrl(c)
	if u == "" {
		return nil, errNoStreamUrl
	}

	s.lock.Lock()
	sess, ok := s.sessions.Get(u)
	if !ok {
		headers := c.Request.Header.Clone()
		cacheConfig, disconnectAtHighWater := readahead.ExtractCacheHeaders(headers)

		// The source issues its own range requests.
		headers.Del("Range")

		if cacheConfig == "" {
			cacheConfig = CacheParams
		}

		src := upstream.NewHTTPSource(s.ctx, u, headers, s.client)
		cache := readahead.New(s.ctx, src, readahead.Config{
			Name:                  hostname(u),
			CacheParams:           cacheConfig,
			DisconnectAtHighWater: disconnectAtHighWater || DisconnectAtHighWater,
		})

		sess = &session{url: u, src: src, cache: cache, store: s}
		s.sessions.Set(u, sess)

		s.log.Info().Str("url", u).Str("params", cacheConfig).Msg("session start")
	}
	s.lock.Unlock()

	return &stream{sess: sess}, nil
}

// Close tears down the session for the given URL.
func (s *store) Close(u string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	sess, ok := s.sessions.Get(u)
	if !ok {
		return
	}

	s.sessions.Delete(u)
	sess.cache.Close()
	s.log.Info().Str("url", u).Msg("session stop")
}

// hostname returns the metrics and log label for a stream URL.
func hostname(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return "unknown"
	}
	return parsed.Hostname()
}
