package readahead

import (
	"bytes"
	"testing"
)

func newFilledPage(pool *pagePool, b byte, used int) *page {
	p := pool.acquire()
	for i := 0; i < used; i++ {
		p.buf[i] = b
	}
	p.used = used
	return p
}

func TestAppendPage(t *testing.T) {
	pool := newPagePool(16)
	w := &window{}

	w.appendPage(newFilledPage(pool, 'a', 16))
	w.appendPage(newFilledPage(pool, 'b', 10))

	if got := w.totalSize(); got != 26 {
		t.Errorf("expected: 26, got: %v", got)
	}
}

func TestReleaseFromStart(t *testing.T) {
	type tc struct {
		name         string
		pages        []int
		maxBytes     int64
		wantReleased int64
		wantTotal    int64
	}

	tcs := []tc{
		{name: "nothing", pages: []int{16, 16}, maxBytes: 0, wantReleased: 0, wantTotal: 32},
		{name: "less-than-first-page", pages: []int{16, 16}, maxBytes: 10, wantReleased: 0, wantTotal: 32},
		{name: "exactly-one-page", pages: []int{16, 16}, maxBytes: 16, wantReleased: 16, wantTotal: 16},
		{name: "stops-before-partial-removal", pages: []int{16, 16, 16}, maxBytes: 40, wantReleased: 32, wantTotal: 16},
		{name: "everything", pages: []int{16, 16, 10}, maxBytes: 42, wantReleased: 42, wantTotal: 0},
		{name: "more-than-window", pages: []int{16, 10}, maxBytes: 100, wantReleased: 26, wantTotal: 0},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			pool := newPagePool(16)
			w := &window{}
			for i, used := range tc.pages {
				w.appendPage(newFilledPage(pool, byte('a'+i), used))
			}

			got := w.releaseFromStart(pool, tc.maxBytes)
			if got != tc.wantReleased {
				t.Errorf("expected released: %v, got: %v", tc.wantReleased, got)
			}
			if w.totalSize() != tc.wantTotal {
				t.Errorf("expected total: %v, got: %v", tc.wantTotal, w.totalSize())
			}

			var sum int64
			for _, p := range w.pages {
				sum += int64(p.used)
			}
			if sum != w.totalSize() {
				t.Errorf("totalSize out of sync with pages, expected: %v, got: %v", sum, w.totalSize())
			}
		})
	}
}

func TestWindowCopy(t *testing.T) {
	pool := newPagePool(16)
	w := &window{}

	var stream []byte
	for i, used := range []int{16, 16, 16, 7} {
		p := newFilledPage(pool, byte('a'+i), used)
		stream = append(stream, p.buf[:used]...)
		w.appendPage(p)
	}

	type tc struct {
		name string
		from int64
		size int
	}

	tcs := []tc{
		{name: "empty", from: 0, size: 0},
		{name: "within-first-page", from: 3, size: 5},
		{name: "page-boundary", from: 14, size: 4},
		{name: "spanning-all-pages", from: 0, size: 55},
		{name: "into-partial-tail", from: 40, size: 15},
		{name: "exact-tail", from: 48, size: 7},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			dst := make([]byte, tc.size)
			w.copy(tc.from, dst)
			if !bytes.Equal(dst, stream[tc.from:tc.from+int64(tc.size)]) {
				t.Errorf("expected: %q, got: %q", stream[tc.from:tc.from+int64(tc.size)], dst)
			}
		})
	}
}

func TestWindowCopyOutOfRange(t *testing.T) {
	pool := newPagePool(16)
	w := &window{}
	w.appendPage(newFilledPage(pool, 'a', 16))

	defer func() {
		if recover() == nil {
			t.Error("expected panic on out-of-range copy")
		}
	}()

	w.copy(10, make([]byte, 10))
}

func TestPagePoolReuse(t *testing.T) {
	pool := newPagePool(16)

	p1 := pool.acquire()
	p1.used = 10
	pool.release(p1)

	if p1.used != 0 {
		t.Errorf("expected released page to be reset, got used: %v", p1.used)
	}

	p2 := pool.acquire()
	if p2 != p1 {
		t.Error("expected the free page to be reused")
	}

	p3 := pool.acquire()
	if p3 == p1 {
		t.Error("expected a fresh page when the free list is empty")
	}
	if len(p3.buf) != 16 {
		t.Errorf("expected page capacity 16, got: %v", len(p3.buf))
	}
}
