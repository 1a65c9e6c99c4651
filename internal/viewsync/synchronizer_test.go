package viewsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
	"github.com/melih/lighthouse-console/internal/events"
	"github.com/melih/lighthouse-console/internal/querycache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testStream struct {
	events chan domain.RawEvent
	once   sync.Once
	closes int
	mu     sync.Mutex
	err    error
}

func (s *testStream) Events() <-chan domain.RawEvent { return s.events }

func (s *testStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *testStream) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.once.Do(func() { close(s.events) })
	return nil
}

func (s *testStream) drop(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.events) })
}

func (s *testStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type testTransport struct {
	mu       sync.Mutex
	connects map[string]int
	streams  map[string]*testStream
	ready    chan string
}

func newTestTransport() *testTransport {
	return &testTransport{
		connects: make(map[string]int),
		streams:  make(map[string]*testStream),
		ready:    make(chan string, 16),
	}
}

func (t *testTransport) Connect(ctx context.Context, route string) (ports.EventStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects[route]++
	s := &testStream{events: make(chan domain.RawEvent, 16)}
	t.streams[route] = s
	t.ready <- route
	return s, nil
}

func (t *testTransport) stream(tb testing.TB, route string) *testStream {
	tb.Helper()
	select {
	case got := <-t.ready:
		require.Equal(tb, route, got)
	case <-time.After(time.Second):
		tb.Fatal("Timeout waiting for connect")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streams[route]
}

func (t *testTransport) connectCount(route string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects[route]
}

type fixture struct {
	transport *testTransport
	manager   *events.Manager
	cache     *querycache.Cache
	sync      *Synchronizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	transport := newTestTransport()
	manager := events.NewManager(transport)
	cache, err := querycache.New(64, 0)
	require.NoError(t, err)
	return &fixture{transport: transport, manager: manager, cache: cache, sync: New(manager, cache)}
}

func updates() (chan string, func(string)) {
	ch := make(chan string, 16)
	return ch, func(eventType string) { ch <- eventType }
}

func waitUpdate(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for view update")
		return ""
	}
}

// A status change patches only the status of the cached container.
func TestStatusChangePatchesContainer(t *testing.T) {
	f := newFixture(t)
	abc := domain.Container{ID: "abc", Name: "web", Image: "nginx:1.27", Status: "created", State: "created", Tags: []string{"prod"}}
	other := domain.Container{ID: "def", Name: "db", Status: "exited"}
	f.cache.Set(querycache.NewKey(domain.KindContainer, "abc"), abc)
	f.cache.Set(querycache.NewKey(domain.KindContainers, "prod"), []domain.Container{abc, other})

	ch, onUpdate := updates()
	dispose := f.sync.Mount(ContainerView("abc", onUpdate))
	defer dispose()

	stream := f.transport.stream(t, "containers/abc/events")
	stream.events <- domain.RawEvent{Type: domain.EventStatusChange, Data: `"running"`}
	assert.Equal(t, domain.EventStatusChange, waitUpdate(t, ch))

	value, stale, ok := f.cache.Peek(querycache.NewKey(domain.KindContainer, "abc"))
	require.True(t, ok)
	assert.False(t, stale)
	want := abc
	want.Status = "running"
	assert.Equal(t, want, value)

	list, _, _ := f.cache.Peek(querycache.NewKey(domain.KindContainers, "prod"))
	assert.Equal(t, []domain.Container{want, other}, list)
}

// Two views share one channel until both are gone.
func TestViewsShareOneChannel(t *testing.T) {
	f := newFixture(t)
	route := "containers/abc/events"

	dispose1 := f.sync.Mount(ContainerView("abc", nil))
	stream := f.transport.stream(t, route)
	dispose2 := f.sync.Mount(ContainerView("abc", nil))

	assert.Equal(t, 1, f.transport.connectCount(route))
	require.Len(t, f.manager.Channels(), 1)

	dispose1()
	dispose1()
	require.Len(t, f.manager.Channels(), 1, "channel stays open for the second view")
	assert.Equal(t, 0, stream.closeCount())

	dispose2()
	assert.Empty(t, f.manager.Channels())
	assert.Eventually(t, func() bool { return stream.closeCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.transport.connectCount(route))
}

// A collection change marks listings stale and the next read refetches.
func TestChangeInvalidatesListing(t *testing.T) {
	f := newFixture(t)
	key := querycache.NewKey(domain.KindContainers)
	fetches := 0
	f.cache.Register(domain.KindContainers, func(ctx context.Context, k querycache.Key) (any, error) {
		fetches++
		return []domain.Container{{ID: "new"}}, nil
	})
	original := []domain.Container{{ID: "old"}}
	f.cache.Set(key, original)

	ch, onUpdate := updates()
	dispose := f.sync.Mount(ContainerListView(onUpdate))
	defer dispose()

	stream := f.transport.stream(t, "containers/events")
	stream.events <- domain.RawEvent{Type: domain.EventChange, Data: "{}"}
	waitUpdate(t, ch)

	value, stale, _ := f.cache.Peek(key)
	assert.True(t, stale)
	assert.Equal(t, original, value)
	assert.Equal(t, 0, fetches)

	got, err := querycache.ReadAs[[]domain.Container](context.Background(), f.cache, key)
	require.NoError(t, err)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, 1, fetches)
}

// A status change for an uncached container leaves the cache untouched.
func TestStatusChangeForAbsentKeyIsNoOp(t *testing.T) {
	f := newFixture(t)
	listKey := querycache.NewKey(domain.KindContainers)
	list := []domain.Container{{ID: "abc", Status: "running"}}
	f.cache.Set(listKey, list)

	ch, onUpdate := updates()
	dispose := f.sync.Mount(ContainerView("xyz", onUpdate))
	defer dispose()

	stream := f.transport.stream(t, "containers/xyz/events")
	stream.events <- domain.RawEvent{Type: domain.EventStatusChange, Data: "exited"}
	waitUpdate(t, ch)

	value, stale, _ := f.cache.Peek(listKey)
	assert.False(t, stale)
	assert.Equal(t, list, value)
	_, _, ok := f.cache.Peek(querycache.NewKey(domain.KindContainer, "xyz"))
	assert.False(t, ok)
	assert.Equal(t, 1, f.cache.Len())
}

func TestMalformedPayloadLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	key := querycache.NewKey(domain.KindContainer, "abc")
	abc := domain.Container{ID: "abc", Status: "running"}
	f.cache.Set(key, abc)

	ch, onUpdate := updates()
	dispose := f.sync.Mount(ContainerView("abc", onUpdate))
	defer dispose()

	stream := f.transport.stream(t, "containers/abc/events")
	stream.events <- domain.RawEvent{Type: domain.EventStatusChange, Data: `{"status":`}
	stream.events <- domain.RawEvent{Type: domain.EventStatusChange, Data: "paused"}

	// Only the well-formed event produces an update.
	waitUpdate(t, ch)
	value, _, _ := f.cache.Peek(key)
	assert.Equal(t, "paused", value.(domain.Container).Status)
	select {
	case e := <-ch:
		t.Fatalf("unexpected extra update %q", e)
	default:
	}
}

func TestEmptyRouteDisablesView(t *testing.T) {
	f := newFixture(t)
	dispose := f.sync.Mount(ContainerView("", nil))
	assert.Empty(t, f.manager.Channels())
	assert.NotPanics(t, dispose)
}

func TestNoUpdatesAfterDispose(t *testing.T) {
	f := newFixture(t)
	key := querycache.NewKey(domain.KindContainer, "abc")
	f.cache.Set(key, domain.Container{ID: "abc", Status: "running"})

	keep, _ := updates()
	keepDispose := f.sync.Mount(ContainerView("abc", func(e string) { keep <- e }))
	defer keepDispose()
	stream := f.transport.stream(t, "containers/abc/events")

	gone := make(chan string, 4)
	dispose := f.sync.Mount(ContainerView("abc", func(e string) { gone <- e }))
	dispose()

	stream.events <- domain.RawEvent{Type: domain.EventStatusChange, Data: "exited"}
	waitUpdate(t, keep)
	assert.Empty(t, gone)
}

func TestOnDisconnectReportsTransportDrop(t *testing.T) {
	f := newFixture(t)
	dropped := make(chan error, 1)
	view := ContainerListView(nil)
	view.OnDisconnect = func(err error) { dropped <- err }

	dispose := f.sync.Mount(view)
	defer dispose()

	boom := errors.New("connection reset")
	f.transport.stream(t, "containers/events").drop(boom)

	select {
	case err := <-dropped:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for disconnect")
	}
}
