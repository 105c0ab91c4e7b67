// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package tests

import (
	"io"
	"sync"
	"time"

	"github.com/streamkit/streamd/internal/upstream"
)

// MockSource is a scripted upstream source for tests. It serves a fixed
// byte slice and can be programmed to fail reads or reconnects, to
// block reads until released, and to count upstream calls.
type MockSource struct {
	lock sync.Mutex

	data  []byte
	flags upstream.Flags

	readErrs      []error
	reconnectErrs []error

	reads       int
	reconnects  int
	disconnects int

	queryProxyResult bool

	readDelay time.Duration

	blocked   bool
	releaseCh chan struct{}
}

var _ upstream.Source = &MockSource{}

// NewMockSource creates a mock source serving the given bytes.
func NewMockSource(data []byte) *MockSource {
	return &MockSource{
		data:      data,
		flags:     upstream.FlagHTTPBased | upstream.FlagWantsPrefetching,
		releaseCh: make(chan struct{}),
	}
}

// FailReads schedules errors to be returned by the next ReadAt calls.
func (m *MockSource) FailReads(errs ...error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.readErrs = append(m.readErrs, errs...)
}

// FailReconnects schedules errors to be returned by the next ReconnectAt calls.
func (m *MockSource) FailReconnects(errs ...error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.reconnectErrs = append(m.reconnectErrs, errs...)
}

// SetFlags overrides the source flags.
func (m *MockSource) SetFlags(f upstream.Flags) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.flags = f
}

// SetQueryProxyResult sets the value reported through the queryProxy
// handshake on reconnect.
func (m *MockSource) SetQueryProxyResult(v bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.queryProxyResult = v
}

// SetReadDelay makes every ReadAt call take at least d, simulating a
// slow upstream.
func (m *MockSource) SetReadDelay(d time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.readDelay = d
}

// Block makes subsequent ReadAt calls block until Release or Disconnect.
func (m *MockSource) Block() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.blocked = true
}

// Release unblocks all blocked ReadAt calls.
func (m *MockSource) Release() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.blocked = false
	close(m.releaseCh)
	m.releaseCh = make(chan struct{})
}

// Reads returns the number of ReadAt calls made so far.
func (m *MockSource) Reads() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.reads
}

// Reconnects returns the number of ReconnectAt calls made so far.
func (m *MockSource) Reconnects() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.reconnects
}

// Disconnects returns the number of Disconnect calls made so far.
func (m *MockSource) Disconnects() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.disconnects
}

// ReadAt serves bytes from the canned data, honoring scripted failures
// and blocking.
func (m *MockSource) ReadAt(p []byte, off int64) (int, error) {
	m.lock.Lock()
	m.reads++

	if len(m.readErrs) > 0 {
		err := m.readErrs[0]
		m.readErrs = m.readErrs[1:]
		m.lock.Unlock()
		return 0, err
	}

	blocked := m.blocked
	releaseCh := m.releaseCh
	delay := m.readDelay
	m.lock.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if blocked {
		<-releaseCh
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}

	n := copy(p, m.data[off:])
	return n, nil
}

// ReconnectAt honors scripted reconnect failures and reports the
// configured proxy state.
func (m *MockSource) ReconnectAt(off int64, queryProxy *bool) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.reconnects++

	*queryProxy = m.queryProxyResult

	if len(m.reconnectErrs) > 0 {
		err := m.reconnectErrs[0]
		m.reconnectErrs = m.reconnectErrs[1:]
		return err
	}

	return nil
}

// Disconnect counts the call and unblocks any blocked reads.
func (m *MockSource) Disconnect() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.disconnects++
	if m.blocked {
		m.blocked = false
		close(m.releaseCh)
		m.releaseCh = make(chan struct{})
	}
}

// Size returns the length of the canned data.
func (m *MockSource) Size() (int64, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return int64(len(m.data)), nil
}

// Flags returns the configured source flags.
func (m *MockSource) Flags() upstream.Flags {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.flags
}
