// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
)

// Scan reads one stream through the proxy end-to-end and reports the
// achieved throughput.
func Scan(ctx context.Context, u, proxyHost string) error {
	l := zerolog.Ctx(ctx)

	if u == "" {
		return errors.New("url required")
	}

	if proxyHost == "" {
		return errors.New("proxy host required")
	}

	proxied := strings.TrimSuffix(proxyHost, "/") + "/streams/" + u
	l.Info().Str("url", proxied).Msg("starting scan")

	req, err := http.NewRequestWithContext(ctx, "GET", proxied, nil)
	if err != nil {
		return err
	}

	s := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected response code: %d", resp.StatusCode)
	}

	bar := progressbar.DefaultBytes(resp.ContentLength, "reading")

	w, err := io.Copy(io.MultiWriter(io.Discard, bar), resp.Body)
	if err != nil {
		l.Error().Err(err).Msg("failed to read stream")
		return err
	}

	d := time.Since(s).Seconds()
	speed := float64(0)
	if d > 0 {
		speed = float64(w) / d / 1024 / 1024
	}

	l.Info().Int64("size", resp.ContentLength).Int64("read", w).Float64("speed_mbps", speed).Msg("complete")
	return nil
}
