// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/rs/zerolog"
	streamcontext "github.com/streamkit/streamd/internal/context"
	"github.com/streamkit/streamd/tests/bench"
	"github.com/streamkit/streamd/tests/scan"
)

func main() {
	args := &Arguments{}
	arg.MustParse(args)

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	l := zerolog.New(os.Stdout).With().Timestamp().Str("node", streamcontext.NodeName).Str("version", version).Logger()
	ctx := l.WithContext(context.Background())

	err := run(ctx, args)
	if err != nil {
		l.Error().Err(err).Msg("error")
		os.Exit(1)
	}

	l.Info().Msg("shutdown")
}

func run(ctx context.Context, args *Arguments) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer cancel()

	switch {
	case args.Version:
		zerolog.Ctx(ctx).Info().Msg("version") // version field is already added to the logger
		return nil

	case args.Seekload != nil:
		return bench.Seekload(ctx, args.Seekload.Urls, args.Seekload.ProxyHost, args.Seekload.Readers, args.Seekload.Seeks)

	case args.Scan != nil:
		return scan.Scan(ctx, args.Scan.Url, args.Scan.ProxyHost)

	default:
		return fmt.Errorf("unknown subcommand")
	}
}
