package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/streamkit/streamd/internal/config"
	streamcontext "github.com/streamkit/streamd/internal/context"
	"github.com/streamkit/streamd/internal/handlers"
	"github.com/streamkit/streamd/internal/metrics"
	"github.com/streamkit/streamd/internal/sessions"
	"golang.org/x/sync/errgroup"
)

func main() {
	args := &Arguments{}
	arg.MustParse(args)

	ll, err := zerolog.ParseLevel(args.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %s\n", args.LogLevel)
		os.Exit(1)
	}

	zerolog.SetGlobalLevel(ll)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	l := zerolog.New(os.Stdout).With().Timestamp().Str("self", streamcontext.NodeName).Str("version", version).Logger()
	ctx := l.WithContext(context.Background())

	err = run(ctx, args)
	if err != nil {
		l.Error().Err(err).Msg("server error")
		os.Exit(1)
	}

	l.Info().Msg("server shutdown")
}

func run(ctx context.Context, args *Arguments) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer cancel()

	switch {
	case args.Version:
		zerolog.Ctx(ctx).Info().Msg("version") // version field is already added to the logger
		return nil
	case args.Server != nil:
		return serverCommand(ctx, args.Server)
	default:
		return fmt.Errorf("unknown subcommand")
	}
}

func serverCommand(ctx context.Context, args *ServerCmd) error {
	l := zerolog.Ctx(ctx)

	cfg := config.Default()
	if args.ConfigPath != "" {
		var err error
		cfg, err = config.Load(ctx, afero.NewOsFs(), args.ConfigPath)
		if err != nil {
			return err
		}
	}

	// Command line arguments take precedence over the configuration file.
	if args.HttpAddr != "" {
		cfg.Server.HttpAddr = args.HttpAddr
	}
	if args.MetricsAddr != "" {
		cfg.Server.MetricsAddr = args.MetricsAddr
	}
	if args.CacheParams != "" {
		cfg.Cache.Params = args.CacheParams
	}
	if args.DisconnectAtHighWater {
		cfg.Cache.DisconnectAtHighWater = true
	}

	if cfg.Metrics.Collector == "memory" {
		metrics.Global = metrics.NewMemoryMetrics()
	}

	sessions.CacheParams = cfg.Cache.Params
	sessions.DisconnectAtHighWater = cfg.Cache.DisconnectAtHighWater

	store := sessions.NewStore(ctx)

	handler, err := handlers.Handler(ctx, store)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	httpSrv := &http.Server{
		Addr:    cfg.Server.HttpAddr,
		Handler: handler,
	}

	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	metricsSrv := &http.Server{
		Addr:    cfg.Server.MetricsAddr,
		Handler: promhttp.Handler(),
	}

	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	l.Info().Str("http", cfg.Server.HttpAddr).Str("metrics", cfg.Server.MetricsAddr).Msg("server start")
	return g.Wait()
}
