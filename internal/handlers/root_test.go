// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package handlers

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/streamkit/streamd/internal/sessions"
)

func newUpstreamServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "data", time.Now(), bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProxy(t *testing.T) http.Handler {
	t.Helper()
	ctx := zerolog.Nop().WithContext(context.Background())
	h, err := Handler(ctx, sessions.NewStore(ctx))
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func newRandomData(n int) []byte {
	d := make([]byte, n)
	_, _ = rand.Read(d)
	return d
}

func TestStreamRoundTrip(t *testing.T) {
	data := newRandomData(512 * 1024)
	upstreamSrv := newUpstreamServer(t, data)
	proxy := newProxy(t)

	req := httptest.NewRequest("GET", "/streams/"+upstreamSrv.URL+"/data", nil)
	recorder := httptest.NewRecorder()
	proxy.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected: 200, got: %v", recorder.Code)
	}

	if got := recorder.Body.Bytes(); !bytes.Equal(got, data) {
		t.Errorf("response bytes do not match upstream, expected %v bytes, got %v", len(data), len(got))
	}
}

func TestStreamRangeRequest(t *testing.T) {
	data := newRandomData(512 * 1024)
	upstreamSrv := newUpstreamServer(t, data)
	proxy := newProxy(t)

	start, end := 100_000, 165_535
	req := httptest.NewRequest("GET", "/streams/"+upstreamSrv.URL+"/data", nil)
	req.Header.Set("Range", fmt.Sprintf("bytes=%v-%v", start, end))
	recorder := httptest.NewRecorder()
	proxy.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusPartialContent {
		t.Fatalf("expected: 206, got: %v", recorder.Code)
	}

	wantRange := fmt.Sprintf("bytes %v-%v/%v", start, end, len(data))
	if got := recorder.Header().Get("Content-Range"); got != wantRange {
		t.Errorf("expected: %v, got: %v", wantRange, got)
	}

	if got := recorder.Body.Bytes(); !bytes.Equal(got, data[start:end+1]) {
		t.Errorf("response bytes do not match upstream range, expected %v bytes, got %v", end-start+1, len(got))
	}
}

func TestStreamHead(t *testing.T) {
	data := newRandomData(128 * 1024)
	upstreamSrv := newUpstreamServer(t, data)
	proxy := newProxy(t)

	req := httptest.NewRequest("HEAD", "/streams/"+upstreamSrv.URL+"/data", nil)
	recorder := httptest.NewRecorder()
	proxy.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected: 200, got: %v", recorder.Code)
	}

	if got := recorder.Header().Get("Content-Length"); got != strconv.Itoa(len(data)) {
		t.Errorf("expected content length: %v, got: %v", len(data), got)
	}

	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body, got %v bytes", recorder.Body.Len())
	}
}

func TestStreamMissingUrl(t *testing.T) {
	proxy := newProxy(t)

	req := httptest.NewRequest("GET", "/streams/", nil)
	recorder := httptest.NewRecorder()
	proxy.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected: 400, got: %v", recorder.Code)
	}
}
