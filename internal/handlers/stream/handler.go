// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	streamcontext "github.com/streamkit/streamd/internal/context"
	"github.com/streamkit/streamd/internal/metrics"
	"github.com/streamkit/streamd/internal/sessions"
)

// Handler describes a handler for cached streams.
type Handler struct {
	store sessions.Store
}

var _ gin.HandlerFunc = (&Handler{}).Handle

// Handle handles a request for a stream.
func (h *Handler) Handle(c *gin.Context) {
	log := streamcontext.Logger(c).With().Str("stream", streamcontext.StreamUrl(c)).Logger()
	log.Debug().Msg("stream handler start")
	s := time.Now()
	defer func() {
		dur := time.Since(s)
		metrics.Global.RecordRequest(c.Request.Method, "stream", dur.Seconds())
		log.Debug().Dur("duration", dur).Msg("stream handler stop")
	}()

	h.fill(c)

	f, err := h.store.Open(c)
	if err != nil {
		// nolint
		c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if _, err := f.Fstat(); err != nil {
		// nolint
		c.AbortWithError(http.StatusBadGateway, err)
		return
	}

	w := c.Writer

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(streamcontext.NodeHeaderKey, streamcontext.NodeName)
	w.Header().Set(streamcontext.CorrelationHeaderKey, c.GetString(streamcontext.CorrelationIdCtxKey))

	http.ServeContent(w, c.Request, "stream", time.Now(), f)
}

// fill fills the context with handler specific information.
func (h *Handler) fill(c *gin.Context) {
	c.Set("handler", "stream")
	c.Set(streamcontext.StreamUrlCtxKey, streamcontext.StreamUrl(c))
	c.Set(streamcontext.StreamRangeCtxKey, c.Request.Header.Get("Range"))
}

// New creates a new stream handler.
func New(ctx context.Context, s sessions.Store) *Handler {
	return &Handler{s}
}
