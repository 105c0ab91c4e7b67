// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package readahead

// window is an ordered sequence of non-empty pages holding a contiguous
// byte range of the upstream stream. Pages are appended at the end and
// released from the start, so combined with the cache's base offset the
// window always starts exactly on a cached byte. Only the tail page may
// be partially filled.
type window struct {
	pages []*page
	total int64
}

// appendPage pushes a page at the tail. The page must hold at least one byte.
func (w *window) appendPage(p *page) {
	w.total += int64(p.used)
	w.pages = append(w.pages, p)
}

// releaseFromStart removes whole pages from the head while they fit in
// maxBytes and returns the number of bytes released. It never splits a
// page, so the window keeps starting on an exact byte boundary.
func (w *window) releaseFromStart(pool *pagePool, maxBytes int64) int64 {
	var released int64

	for maxBytes > 0 && len(w.pages) > 0 {
		p := w.pages[0]

		if maxBytes < int64(p.used) {
			break
		}

		maxBytes -= int64(p.used)
		released += int64(p.used)

		w.pages = w.pages[1:]
		pool.release(p)
	}

	w.total -= released
	return released
}

// totalSize returns the number of bytes held by the window.
func (w *window) totalSize() int64 {
	return w.total
}

// copy copies len(dst) bytes starting at window-relative offset from
// into dst, walking pages. The requested range must be inside the
// window; violating that is a programming error.
func (w *window) copy(from int64, dst []byte) {
	if len(dst) == 0 {
		return
	}

	if from+int64(len(dst)) > w.total {
		panic("readahead: window copy out of range")
	}

	var offset int64
	i := 0
	for from >= offset+int64(w.pages[i].used) {
		offset += int64(w.pages[i].used)
		i++
	}

	delta := from - offset
	for len(dst) > 0 {
		p := w.pages[i]
		n := copy(dst, p.buf[delta:p.used])
		dst = dst[n:]
		delta = 0
		i++
	}
}
