// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package sessions

import (
	"github.com/gin-gonic/gin"
)

// Store describes the set of live stream sessions served by this node.
// Each session binds one upstream source to one read-ahead cache.
type Store interface {
	// Open opens the stream for the requested URL, creating its session
	// if needed.
	Open(c *gin.Context) (Stream, error)

	// Close tears down the session for the given URL, if any.
	Close(url string)
}

// Stream is an abstraction for a cached upstream stream.
// It is similar to os.File.
type Stream interface {
	// Seek sets the current stream offset.
	Seek(offset int64, whence int) (int64, error)

	// Fstat returns the size of the stream.
	Fstat() (int64, error)

	// Read reads up to len(p) bytes into p. It returns the number of bytes read (0 <= n <= len(p)) and any error encountered.
	Read(p []byte) (n int, err error)

	// ReadAt reads len(p) bytes from the stream starting at byte offset off. It returns the number of bytes read and the error, if any.
	ReadAt(buff []byte, off int64) (int, error)
}

var (
	// MaxSessions is the maximum number of concurrently tracked sessions.
	MaxSessions = 1024

	// CacheParams is the default cache parameter string applied to new
	// sessions; a per-request x-cache-config header overrides it.
	CacheParams = ""

	// DisconnectAtHighWater makes new sessions drop the upstream
	// connection once their window fills.
	DisconnectAtHighWater = false
)
