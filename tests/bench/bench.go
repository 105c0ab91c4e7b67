// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package bench

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streamkit/streamd/internal/math"
	"golang.org/x/sync/errgroup"
)

const chunkSize = 256 * 1024

var client = &http.Client{
	Transport: &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, // local test setups use self-signed certs
		},
	},
}

// Seekload replays a demuxer-like workload against the proxy: for each
// URL, read sequentially in chunks and scrub to random offsets, with
// the given number of concurrent readers. It reports download speed
// percentiles and the error rate.
func Seekload(ctx context.Context, urls, proxyHost string, readers, seeks int) error {
	l := zerolog.Ctx(ctx)

	if urls == "" {
		return errors.New("urls required")
	}

	if proxyHost == "" {
		return errors.New("proxy host required")
	}

	if readers <= 0 {
		return errors.New("reader count must be positive")
	}

	proxyUrls := getProxyUrls(strings.Fields(strings.TrimSpace(urls)), proxyHost)

	var lock sync.Mutex
	var speeds []float64
	failures := 0

	var g errgroup.Group
	g.SetLimit(readers)

	for _, u := range proxyUrls {
		u := u
		for r := 0; r < readers; r++ {
			g.Go(func() error {
				s, err := seekloadOne(ctx, u, seeks)
				lock.Lock()
				defer lock.Unlock()
				if err != nil {
					l.Error().Err(err).Str("url", u).Msg("reader failed")
					failures++
				} else {
					speeds = append(speeds, s...)
				}
				return nil
			})
		}
	}

	_ = g.Wait()

	percentiles := math.PercentilesFloat64Reverse(speeds, 0.5, 0.75, 0.9, 0.95, 1)
	if len(percentiles) > 0 {
		l.Info().
			Float64("p50", percentiles[0]).
			Float64("p75", percentiles[1]).
			Float64("p90", percentiles[2]).
			Float64("p95", percentiles[3]).
			Float64("p100", percentiles[4]).
			Msg("speeds (MB/s)")
	}

	total := len(proxyUrls) * readers
	l.Info().Float64("error_rate", float64(failures)/float64(total)).Msg("error rate")

	return nil
}

// seekloadOne reads one stream through the proxy: a sequential pass in
// chunks, then a scrub to each random offset. It returns the measured
// download speed of each ranged request in bytes per second.
func seekloadOne(ctx context.Context, u string, seeks int) ([]float64, error) {
	size, err := stat(ctx, u)
	if err != nil {
		return nil, err
	}

	var speeds []float64

	read := func(offset int64) error {
		count := int64(chunkSize)
		if offset+count > size {
			count = size - offset
		}
		if count <= 0 {
			return nil
		}

		req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+count-1))

		s := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusPartialContent {
			return fmt.Errorf("unexpected response code: %d", resp.StatusCode)
		}

		n, err := io.Copy(io.Discard, resp.Body)
		if err != nil {
			return err
		}

		if d := time.Since(s).Seconds(); d > 0 {
			speeds = append(speeds, float64(n)/d)
		}
		return nil
	}

	// Sequential pass.
	for offset := int64(0); offset < size; offset += chunkSize {
		if err := read(offset); err != nil {
			return nil, err
		}
	}

	// Random scrubbing.
	for _, offset := range math.RandomOffsets(size, seeks) {
		if err := read(offset); err != nil {
			return nil, err
		}
	}

	return speeds, nil
}

// stat returns the stream size as reported by the proxy.
func stat(ctx context.Context, u string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, "HEAD", u, nil)
	if err != nil {
		return 0, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected response code: %d", resp.StatusCode)
	}

	return resp.ContentLength, nil
}

// getProxyUrls maps upstream URLs to their proxied form.
func getProxyUrls(urls []string, proxyHost string) []string {
	proxied := make([]string, 0, len(urls))
	for _, u := range urls {
		proxied = append(proxied, strings.TrimSuffix(proxyHost, "/")+"/streams/"+u)
	}
	return proxied
}
