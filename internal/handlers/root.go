// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	streamcontext "github.com/streamkit/streamd/internal/context"
	streamhandler "github.com/streamkit/streamd/internal/handlers/stream"
	"github.com/streamkit/streamd/internal/sessions"
)

var sh *streamhandler.Handler

// Handler creates the HTTP handler of the caching proxy.
func Handler(ctx context.Context, s sessions.Store) (http.Handler, error) {
	sh = streamhandler.New(ctx, s)

	engine := newEngine(ctx)
	registerRoutes(engine, streamHandler)

	return engine, nil
}

// newEngine creates a new gin engine.
func newEngine(ctx context.Context) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	baseLog := zerolog.Ctx(ctx)

	engine.Use(func(c *gin.Context) {
		streamcontext.FillCorrelationId(c)
		c.Set(streamcontext.LoggerCtxKey, baseLog)

		l := streamcontext.Logger(c)
		l.Debug().Msg("request start")
		s := time.Now()

		c.Next()

		status := c.Writer.Status()
		event := l.Info()
		if status >= 400 && status < 500 {
			event = l.Warn()
		} else if status >= 500 {
			event = l.Error()
		}

		if c.Errors != nil {
			errs := []error{}
			for _, e := range c.Errors {
				errs = append(errs, e.Err)
			}
			event = event.Errs("error", errs)
		}

		event.Dur("duration", time.Since(s)).Str("method", c.Request.Method).Int("status", status).Msg("request served")
	})

	engine.Use(gin.Recovery())
	return engine
}

// registerRoutes registers the routes for the HTTP server.
func registerRoutes(engine *gin.Engine, s gin.HandlerFunc) {
	engine.HEAD("/streams/*url", s)
	engine.GET("/streams/*url", s)
}

// streamHandler is a handler function for the /streams API.
func streamHandler(c *gin.Context) {
	sh.Handle(c)
}
