// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package context

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Context keys.
const (
	CorrelationIdCtxKey = "correlation_id"
	StreamUrlCtxKey     = "stream_url"
	StreamRangeCtxKey   = "stream_range"
	LoggerCtxKey        = "logger"
)

// Request headers.
const (
	CorrelationHeaderKey = "X-Streamd-CorrelationId"
	NodeHeaderKey        = "X-Streamd-Node"
)

var (
	NodeName, _ = os.Hostname()
)

func FillCorrelationId(c *gin.Context) {
	correlationId := c.Request.Header.Get(CorrelationHeaderKey)
	if correlationId == "" {
		correlationId = uuid.New().String()
	}
	c.Set(CorrelationIdCtxKey, correlationId)
}

// Logger gets the logger with request specific fields.
func Logger(c *gin.Context) zerolog.Logger {
	var l zerolog.Logger
	obj, ok := c.Get(LoggerCtxKey)
	if !ok {
		fmt.Println("WARN: logger not found in context")
		l = zerolog.Nop()
	} else {
		ctxLog := obj.(*zerolog.Logger)
		l = *ctxLog
	}

	return l.With().Str("correlationid", c.GetString(CorrelationIdCtxKey)).Str("url", c.Request.URL.String()).Str("range", c.Request.Header.Get("Range")).Str("ip", c.ClientIP()).Logger()
}

// StreamUrl extracts the upstream URL from the incoming request URL.
func StreamUrl(c *gin.Context) string {
	u := strings.TrimPrefix(c.Param("url"), "/")
	if c.Request.URL.RawQuery != "" {
		u = u + "?" + c.Request.URL.RawQuery
	}
	return u
}

// SetOutboundHeaders sets the mandatory headers for all outbound requests.
func SetOutboundHeaders(r *http.Request, c *gin.Context) {
	r.Header.Set(CorrelationHeaderKey, c.GetString(CorrelationIdCtxKey))
	r.Header.Set(NodeHeaderKey, NodeName)
}

// RangeStartIndex returns the start index of a byte range specified in the given range header value.
// It expects the range value to be in the format "bytes=startIndex-endIndex".
func RangeStartIndex(rangeValue string) (int64, error) {
	if rangeValue == "" {
		return 0, errors.New("no range header")
	}

	// split the range value by "="
	parts := strings.Split(rangeValue, "=")
	if len(parts) != 2 || parts[0] != "bytes" {
		return 0, errors.New("invalid range format")
	}

	// split the byte range by "-"
	ranges := strings.Split(parts[1], "-")
	if len(ranges) != 2 {
		return 0, errors.New("invalid range format")
	}

	// convert the start index to an integer
	startIndex, err := strconv.Atoi(ranges[0])
	if err != nil {
		return 0, err
	}

	return int64(startIndex), nil
}
