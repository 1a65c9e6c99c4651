package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
)

// fakeStream is an in-memory EventStream driven by the test.
type fakeStream struct {
	route  string
	events chan domain.RawEvent
	mu     sync.Mutex
	closed int
	err    error
}

func (s *fakeStream) Events() <-chan domain.RawEvent { return s.events }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed == 0 {
		close(s.events)
	}
	s.closed++
	return nil
}

// drop simulates the server ending the stream.
func (s *fakeStream) drop(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	if s.closed == 0 {
		close(s.events)
	}
	s.closed++
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeTransport counts connects and hands every new stream to the test.
type fakeTransport struct {
	mu        sync.Mutex
	connects  map[string]int
	streams   []*fakeStream
	connected chan *fakeStream
	failWith  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		connects:  make(map[string]int),
		connected: make(chan *fakeStream, 16),
	}
}

func (t *fakeTransport) Connect(ctx context.Context, route string) (ports.EventStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects[route]++
	if t.failWith != nil {
		return nil, t.failWith
	}
	s := &fakeStream{route: route, events: make(chan domain.RawEvent, 16)}
	t.streams = append(t.streams, s)
	t.connected <- s
	return s, nil
}

func (t *fakeTransport) connectCount(route string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects[route]
}

func (t *fakeTransport) waitStream(tb testing.TB) *fakeStream {
	tb.Helper()
	select {
	case s := <-t.connected:
		return s
	case <-time.After(time.Second):
		tb.Fatal("Timeout waiting for transport connect")
		return nil
	}
}

var errBoom = errors.New("boom")
