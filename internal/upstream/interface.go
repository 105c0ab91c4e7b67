// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package upstream

import (
	"errors"
	"net/http"
)

// Flags describe capabilities of a source.
type Flags uint32

const (
	// FlagWantsPrefetching indicates the source benefits from read-ahead.
	FlagWantsPrefetching Flags = 1 << iota

	// FlagHTTPBased indicates the source is backed by an HTTP connection.
	FlagHTTPBased

	// FlagCaching indicates the source caches fetched data itself.
	FlagCaching
)

// ErrUnsupported indicates the upstream cannot serve positional reads,
// e.g. the server does not support range requests. It is not retryable.
var ErrUnsupported = errors.New("upstream: byte ranges not supported")

// Source provides positional reads over a remote byte stream.
type Source interface {
	// ReadAt reads len(p) bytes at offset off, or fewer when the stream
	// ends first. It returns (0, io.EOF) at end of stream. The call may
	// block; Disconnect unblocks it.
	ReadAt(p []byte, off int64) (int, error)

	// ReconnectAt re-establishes the underlying transport at offset off.
	// queryProxy carries the proxy handshake: on entry it requests a proxy
	// re-query, on return it reports whether a proxy is configured.
	ReconnectAt(off int64, queryProxy *bool) error

	// Disconnect tears down the current transport. It is idempotent and
	// unblocks any in-flight ReadAt.
	Disconnect()

	// Size returns the total length of the stream.
	Size() (int64, error)

	// Flags returns the capabilities of this source.
	Flags() Flags
}

// Error describes an error that occurred during an upstream operation.
type Error struct {
	*http.Response
	error
}

// Unwrap returns the underlying error.
func (e Error) Unwrap() error {
	return e.error
}
