// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streamkit/streamd/internal/metrics"
)

// httpSource is a Source implementation over HTTP range requests.
// It keeps one ranged GET open and continues its body for sequential
// reads; a read at any other offset reconnects.
type httpSource struct {
	url     string
	headers http.Header
	client  *http.Client
	log     zerolog.Logger

	mu           sync.Mutex
	body         io.ReadCloser
	pos          int64
	cancel       context.CancelFunc
	disconnected bool
}

var _ Source = &httpSource{}

// NewHTTPSource creates a new source reading the given URL over HTTP
// range requests. The given headers are forwarded on every request.
func NewHTTPSource(ctx context.Context, u string, headers http.Header, client *http.Client) Source {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpSource{
		url:     u,
		headers: headers,
		client:  client,
		log:     zerolog.Ctx(ctx).With().Str("component", "upstream").Str("url", u).Logger(),
	}
}

// ReadAt reads len(p) bytes at offset off from the current connection,
// reconnecting if the offset is not the current position. It returns
// fewer bytes only when the stream ends or the connection fails first.
func (s *httpSource) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	if s.body == nil || s.pos != off {
		if err := s.connect(off); err != nil {
			s.mu.Unlock()
			return 0, err
		}
	}
	body := s.body
	s.mu.Unlock()

	startTime := time.Now()
	n, err := io.ReadFull(body, p)

	s.mu.Lock()
	defer s.mu.Unlock()

	if n > 0 {
		s.pos += int64(n)
		metrics.Global.RecordUpstreamResponse(s.hostname(), "pread", time.Since(startTime).Seconds(), int64(n))
		return n, nil
	}

	s.closeConnection()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return 0, err
}

// ReconnectAt re-establishes the ranged connection at offset off.
func (s *httpSource) ReconnectAt(off int64, queryProxy *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if *queryProxy {
		if t, ok := s.client.Transport.(*http.Transport); ok {
			t.Proxy = http.ProxyFromEnvironment
		} else {
			// Cannot re-query the proxy on this transport.
			*queryProxy = false
		}
	}

	s.disconnected = false
	return s.connect(off)
}

// Disconnect cancels the in-flight request and closes the connection.
func (s *httpSource) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disconnected = true
	s.closeConnection()
}

// Size stats the remote stream.
func (s *httpSource) Size() (int64, error) {
	req, err := s.request(context.Background(), 0, 0)
	if err != nil {
		return -1, err
	}

	var count int64
	startTime := time.Now()
	defer func() {
		metrics.Global.RecordUpstreamResponse(s.hostname(), "fstat", time.Since(startTime).Seconds(), count)
	}()

	s.log.Debug().Msg("upstream fstat start")
	defer s.log.Debug().Msg("upstream fstat stop")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Error().Err(err).Msg("upstream fstat error")
		return 0, Error{resp, err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == 200 {
		count = resp.ContentLength
		return count, nil
	}

	if resp.StatusCode == 206 {
		l := resp.ContentLength
		rs := resp.Header.Get("Content-Range")
		if rs == "" {
			count = l
			return l, nil
		}

		pos := strings.LastIndexByte(rs, '/')
		if pos < 0 {
			count = l
			return l, nil
		}

		l, _ = strconv.ParseInt(rs[pos+1:], 10, 64)
		count = l
		return l, nil
	}

	s.log.Error().Int("status", resp.StatusCode).Msg("upstream fstat error")
	return 0, Error{resp, fmt.Errorf("unexpected response code: %d", resp.StatusCode)}
}

// Flags returns the capabilities of this source.
func (s *httpSource) Flags() Flags {
	return FlagHTTPBased | FlagWantsPrefetching
}

// connect opens a ranged GET at offset off. Callers must hold s.mu.
func (s *httpSource) connect(off int64) error {
	s.closeConnection()

	ctx, cancel := context.WithCancel(context.Background())

	req, err := s.request(ctx, off, -1)
	if err != nil {
		cancel()
		return err
	}

	s.log.Debug().Int64("offset", off).Msg("upstream connect start")
	statusCode := -1
	startTime := time.Now()
	defer func() {
		s.log.Debug().Int("status", statusCode).Dur("duration", time.Since(startTime)).Msg("upstream connect stop")
	}()

	resp, err := s.client.Do(req)
	if resp != nil {
		statusCode = resp.StatusCode
	}
	if err != nil {
		cancel()
		detailedErr := Error{resp, err}
		s.log.Error().Err(detailedErr).Int64("offset", off).Msg("upstream connect error")
		return detailedErr
	}

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		resp.Body.Close()
		cancel()
		return io.EOF
	}

	if resp.StatusCode == 200 && off > 0 {
		// The server ignored the range request.
		resp.Body.Close()
		cancel()
		s.log.Error().Int64("offset", off).Msg("upstream does not support range requests")
		return ErrUnsupported
	}

	if resp.StatusCode != 200 && resp.StatusCode != 206 {
		resp.Body.Close()
		cancel()
		s.log.Error().Int("status", resp.StatusCode).Msg("upstream connect error")
		return Error{resp, fmt.Errorf("unexpected response code: %d", resp.StatusCode)}
	}

	s.body = resp.Body
	s.pos = off
	s.cancel = cancel

	return nil
}

// closeConnection drops the current connection. Callers must hold s.mu.
func (s *httpSource) closeConnection() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
}

// request creates a new ranged HTTP request. end < 0 means open-ended.
func (s *httpSource) request(ctx context.Context, start, end int64) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.url, nil)
	if err != nil {
		return nil, err
	}

	for key, vals := range s.headers {
		vals2 := make([]string, len(vals))
		copy(vals2, vals)
		req.Header[key] = vals2
	}

	if end < 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	} else {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	}

	return req, nil
}

// hostname returns the metrics label for this source.
func (s *httpSource) hostname() string {
	u, err := url.Parse(s.url)
	if err != nil {
		return "unknown"
	}
	return u.Hostname()
}
