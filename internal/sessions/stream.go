// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package sessions

import (
	"io"

	"github.com/streamkit/streamd/internal/readahead"
	"github.com/streamkit/streamd/internal/upstream"
)

// session binds one upstream source to one read-ahead cache.
type session struct {
	url   string
	src   upstream.Source
	cache *readahead.Cache
	store *store
}

// stat returns the stream size through the shared size cache.
func (s *session) stat() (int64, error) {
	return s.store.sizes.GetOrFetch(s.url, s.src.Size)
}

// stream is a cursor over a session. It implements the Stream
// interface. It is similar to os.File.
type stream struct {
	sess *session
	cur  int64
}

var _ Stream = &stream{}

// Seek sets the current stream offset.
func (f *stream) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekCurrent:
		f.cur += offset
	case io.SeekStart:
		f.cur = offset
	case io.SeekEnd:
		size, err := f.sess.stat()
		if err != nil {
			return 0, err
		}
		f.cur = size + offset
	}

	return f.cur, nil
}

// Fstat returns the size of the stream.
func (f *stream) Fstat() (int64, error) {
	return f.sess.stat()
}

// Read reads up to len(p) bytes into p. It returns the number of bytes read (0 <= n <= len(p)) and any error encountered.
func (f *stream) Read(p []byte) (n int, err error) {
	ret, err := f.ReadAt(p, f.cur)
	if err == nil {
		f.cur += int64(ret)
	}
	return ret, err
}

// ReadAt reads len(p) bytes from the stream starting at byte offset off. It returns the number of bytes read and the error, if any.
func (f *stream) ReadAt(buff []byte, off int64) (int, error) {
	n, err := f.sess.cache.ReadAt(buff, off)
	if err != nil {
		return n, err
	}

	if size, serr := f.sess.stat(); serr == nil && off+int64(len(buff)) > size {
		err = io.EOF
	}

	return n, err
}
