package ble

import (
	"context"
	"strings"
	"sync"
)

// TestTransport is a test helper that simulates the module's unframed byte
// stream in memory. Unlike a real serial port it is driven entirely by the
// test: Read returns whatever has been queued with QueueRead and (0, nil)
// otherwise, matching the non-blocking Transport contract.
// Exported for use in tests.
type TestTransport struct {
	mu      sync.Mutex
	pending []byte
	writes  []string
	closed  bool
}

func NewTestTransport() *TestTransport {
	return &TestTransport{}
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return 0, nil
	}
	n = copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, string(p))
	return len(p), nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// QueueRead queues data to be returned by subsequent Reads. This simulates
// bytes arriving from the module.
func (t *TestTransport) QueueRead(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, data...)
}

// Writes returns every payload written to the transport, in order.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Commands renders the written payloads as a comma-separated list, which
// keeps test failure messages readable.
func (t *TestTransport) Commands() string {
	return strings.Join(t.Writes(), ",")
}

// Dialer returns a Dialer that hands out this transport, for wiring the
// fake into New.
func (t *TestTransport) Dialer() Dialer {
	return testDialer{transport: t}
}

type testDialer struct {
	transport *TestTransport
}

func (d testDialer) Dial(ctx context.Context) (Transport, error) {
	return d.transport, nil
}
