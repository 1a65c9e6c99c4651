// Package events shares server-pushed event channels between subscribers.
//
// A Manager keeps at most one live channel per route. Every Open returns a
// Handle holding one reference; the channel's stream is torn down when the
// last handle is released. Events are dispatched on one goroutine per
// channel, so events of a route arrive in the order the server sent them.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
	"github.com/melih/lighthouse-console/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrDisconnected is reported by Handle.Err when the server ended the stream
// without an error.
var ErrDisconnected = errors.New("event stream disconnected")

// ErrClosed is reported by Handle.Err after the channel was torn down
// because no subscribers were left.
var ErrClosed = errors.New("event channel closed")

// Callback receives events of the type it was registered for.
type Callback func(domain.RawEvent)

type registration struct {
	callback Callback
	active   atomic.Bool
}

type channel struct {
	route     string
	refs      int
	callbacks map[string]map[*Handle]*registration
	stream    ports.EventStream
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	closed    bool
}

// Handle is a subscriber's reference to a shared channel. It is only valid
// with the Manager that returned it.
type Handle struct {
	route    string
	ch       *channel
	types    map[string]struct{}
	released bool
}

// Route returns the route the handle was opened for.
func (h *Handle) Route() string { return h.route }

// Done is closed when the underlying channel ends, either because the
// transport dropped or because it was torn down.
func (h *Handle) Done() <-chan struct{} { return h.ch.done }

// Err reports why the channel ended. Only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.ch.done:
		return h.ch.err
	default:
		return nil
	}
}

// ChannelInfo describes a live channel.
type ChannelInfo struct {
	Route     string `json:"route"`
	Refs      int    `json:"refs"`
	Callbacks int    `json:"callbacks"`
}

// Manager is the registry of live channels.
type Manager struct {
	transport ports.EventTransport
	mu        sync.Mutex
	channels  map[string]*channel
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewManager creates a manager that opens streams through transport.
func NewManager(transport ports.EventTransport) *Manager {
	return &Manager{
		transport: transport,
		channels:  make(map[string]*channel),
		logger:    log.With().Str("component", "events").Logger(),
		metrics:   metrics.GetMetrics(),
	}
}

// Open returns a handle to the channel for route, creating and connecting
// the channel if none is live. It never fails; connection errors surface
// through the handle's Done and Err.
func (m *Manager) Open(route string) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[route]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		ch = &channel{
			route:     route,
			callbacks: make(map[string]map[*Handle]*registration),
			cancel:    cancel,
			done:      make(chan struct{}),
		}
		m.channels[route] = ch
		m.metrics.ChannelOpensTotal.Inc()
		m.metrics.ChannelsOpen.Inc()
		m.logger.Debug().Str("route", route).Msg("Opening event channel")
		go m.run(ctx, ch)
	}
	ch.refs++

	return &Handle{route: route, ch: ch, types: make(map[string]struct{})}
}

// RegisterEventCallback adds callback as the handle's listener for
// eventType. A handle has at most one listener per event type; registering
// again replaces the previous one. Released handles are ignored.
func (m *Manager) RegisterEventCallback(h *Handle, eventType string, callback Callback) {
	if h == nil || callback == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if h.released {
		return
	}
	regs, ok := h.ch.callbacks[eventType]
	if !ok {
		regs = make(map[*Handle]*registration)
		h.ch.callbacks[eventType] = regs
	}
	if old, ok := regs[h]; ok {
		old.active.Store(false)
	}
	reg := &registration{callback: callback}
	reg.active.Store(true)
	regs[h] = reg
	h.types[eventType] = struct{}{}
}

// DeregisterEventCallback removes the handle's listener for eventType. When
// it was the handle's last listener the handle releases its reference.
// Removing a listener that is not registered is a no-op.
func (m *Manager) DeregisterEventCallback(h *Handle, eventType string) {
	if h == nil {
		return
	}
	m.mu.Lock()
	if h.released {
		m.mu.Unlock()
		return
	}
	if _, ok := h.types[eventType]; !ok {
		m.mu.Unlock()
		return
	}
	m.removeLocked(h, eventType)

	var teardown *channel
	if len(h.types) == 0 {
		teardown = m.releaseLocked(h)
	}
	m.mu.Unlock()

	if teardown != nil {
		m.teardown(teardown)
	}
}

// Close drops every listener of the handle and releases its reference.
// Closing a handle twice is a no-op.
func (m *Manager) Close(h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	if h.released {
		m.mu.Unlock()
		return
	}
	for eventType := range h.types {
		m.removeLocked(h, eventType)
	}
	teardown := m.releaseLocked(h)
	m.mu.Unlock()

	if teardown != nil {
		m.teardown(teardown)
	}
}

// Channels lists the live channels.
func (m *Manager) Channels() []ChannelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]ChannelInfo, 0, len(m.channels))
	for route, ch := range m.channels {
		count := 0
		for _, regs := range ch.callbacks {
			count += len(regs)
		}
		infos = append(infos, ChannelInfo{Route: route, Refs: ch.refs, Callbacks: count})
	}
	return infos
}

// Shutdown tears down every live channel regardless of references.
// Outstanding handles observe Done.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	var live []*channel
	for route, ch := range m.channels {
		ch.closed = true
		ch.err = ErrClosed
		delete(m.channels, route)
		live = append(live, ch)
	}
	m.mu.Unlock()

	for _, ch := range live {
		m.teardown(ch)
	}
}

func (m *Manager) removeLocked(h *Handle, eventType string) {
	delete(h.types, eventType)
	regs := h.ch.callbacks[eventType]
	if reg, ok := regs[h]; ok {
		reg.active.Store(false)
		delete(regs, h)
	}
	if len(regs) == 0 {
		delete(h.ch.callbacks, eventType)
	}
}

// releaseLocked drops the handle's reference and returns the channel if it
// must now be torn down.
func (m *Manager) releaseLocked(h *Handle) *channel {
	h.released = true
	ch := h.ch
	ch.refs--
	if ch.refs > 0 || ch.closed {
		return nil
	}
	ch.closed = true
	ch.err = ErrClosed
	if m.channels[ch.route] == ch {
		delete(m.channels, ch.route)
	}
	return ch
}

// teardown stops a channel already marked closed and removed from the
// registry.
func (m *Manager) teardown(ch *channel) {
	ch.cancel()
	m.mu.Lock()
	stream := ch.stream
	ch.stream = nil
	m.mu.Unlock()
	if stream != nil {
		if err := stream.Close(); err != nil {
			m.logger.Warn().Err(err).Str("route", ch.route).Msg("Failed to close event stream")
		}
	}
	close(ch.done)
	m.metrics.ChannelClosesTotal.Inc()
	m.metrics.ChannelsOpen.Dec()
	m.logger.Debug().Str("route", ch.route).Msg("Closed event channel")
}

// fail ends a channel whose transport failed or dropped. The channel leaves
// the registry so the next Open dials a fresh one; there is no retry.
func (m *Manager) fail(ch *channel, err error) {
	if err == nil {
		err = ErrDisconnected
	}
	m.mu.Lock()
	if ch.closed {
		m.mu.Unlock()
		return
	}
	ch.closed = true
	ch.err = err
	if m.channels[ch.route] == ch {
		delete(m.channels, ch.route)
	}
	m.mu.Unlock()

	m.metrics.ChannelFailuresTotal.Inc()
	m.logger.Warn().Err(err).Str("route", ch.route).Msg("Event channel ended")
	m.teardown(ch)
}

func (m *Manager) run(ctx context.Context, ch *channel) {
	stream, err := m.transport.Connect(ctx, ch.route)
	if err != nil {
		m.fail(ch, err)
		return
	}

	m.mu.Lock()
	if ch.closed {
		m.mu.Unlock()
		// Torn down while connecting.
		if err := stream.Close(); err != nil {
			m.logger.Debug().Err(err).Str("route", ch.route).Msg("Failed to close late event stream")
		}
		return
	}
	ch.stream = stream
	m.mu.Unlock()

	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				m.fail(ch, stream.Err())
				return
			}
			m.dispatch(ch, event)
		}
	}
}

func (m *Manager) dispatch(ch *channel, event domain.RawEvent) {
	m.mu.Lock()
	if ch.closed {
		m.mu.Unlock()
		return
	}
	regs := ch.callbacks[event.Type]
	snapshot := make([]*registration, 0, len(regs))
	for _, reg := range regs {
		snapshot = append(snapshot, reg)
	}
	m.mu.Unlock()

	m.metrics.EventsDispatchedTotal.WithLabelValues(event.Type).Inc()
	for _, reg := range snapshot {
		if !reg.active.Load() {
			continue
		}
		m.invoke(ch.route, reg.callback, event)
	}
}

func (m *Manager) invoke(route string, callback Callback, event domain.RawEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Interface("panic", r).
				Str("route", route).
				Str("event_type", event.Type).
				Msg("Event callback panicked")
		}
	}()
	m.metrics.CallbacksInvokedTotal.WithLabelValues(event.Type).Inc()
	callback(event)
}
