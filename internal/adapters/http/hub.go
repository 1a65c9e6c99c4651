package http

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
	"github.com/melih/lighthouse-console/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventHub fans platform events out to SSE subscribers by route.
type EventHub struct {
	buffer      int
	heartbeat   time.Duration
	subscribers map[string]map[string]chan domain.RawEvent
	mu          sync.RWMutex
	closed      bool
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

// NewEventHub creates a hub whose subscribers buffer up to buffer events.
func NewEventHub(buffer int, heartbeat time.Duration) *EventHub {
	return &EventHub{
		buffer:      buffer,
		heartbeat:   heartbeat,
		subscribers: make(map[string]map[string]chan domain.RawEvent),
		logger:      log.With().Str("component", "hub").Logger(),
		metrics:     metrics.GetMetrics(),
	}
}

// Subscribe adds a subscriber for route.
func (h *EventHub) Subscribe(route string) (string, <-chan domain.RawEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan domain.RawEvent, h.buffer)
	if h.closed {
		close(ch)
		return id, ch
	}
	subs, ok := h.subscribers[route]
	if !ok {
		subs = make(map[string]chan domain.RawEvent)
		h.subscribers[route] = subs
	}
	subs[id] = ch
	h.metrics.HubSubscribersActive.Inc()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *EventHub) Unsubscribe(route, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[route]
	if ch, ok := subs[id]; ok {
		close(ch)
		delete(subs, id)
		h.metrics.HubSubscribersActive.Dec()
	}
	if len(subs) == 0 {
		delete(h.subscribers, route)
	}
}

// Publish delivers e to every subscriber of route without blocking. Slow
// subscribers lose events.
func (h *EventHub) Publish(route string, e domain.RawEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers[route] {
		select {
		case ch <- e:
			h.metrics.HubEventsPublished.WithLabelValues(e.Type).Inc()
		default:
			h.metrics.HubEventsDropped.Inc()
			h.logger.Warn().Str("route", route).Str("subscriber_id", id).Msg("Subscriber buffer full, dropping event")
		}
	}
}

// PublishChange turns a container change into platform events: a
// status_change on the container's own route and, for membership changes,
// a change on the collection route.
func (h *EventHub) PublishChange(change domain.ContainerChange) {
	if change.Status != "" {
		status, _ := json.Marshal(change.Status)
		h.Publish(domain.ResourceRoute(domain.KindContainers, change.ID), domain.RawEvent{
			Type: domain.EventStatusChange,
			Data: string(status),
		})
	}
	if change.Membership {
		body, _ := json.Marshal(fiber.Map{"id": change.ID, "status": change.Status})
		h.Publish(domain.CollectionRoute(domain.KindContainers), domain.RawEvent{
			Type: domain.EventChange,
			Data: string(body),
		})
	}
}

// Run publishes changes from watcher until ctx ends or the watcher fails.
func (h *EventHub) Run(ctx context.Context, watcher ports.ContainerWatcher) error {
	changes, errs := watcher.WatchContainers(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			h.logger.Debug().Str("container_id", change.ID).Str("status", change.Status).Msg("Container changed")
			h.PublishChange(change)
		}
	}
}

// Close disconnects every subscriber.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for route, subs := range h.subscribers {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
			h.metrics.HubSubscribersActive.Dec()
		}
		delete(h.subscribers, route)
	}
}

// Stream serves the SSE feed for the request path, e.g.
// /containers/abc/events.
func (h *EventHub) Stream(c *fiber.Ctx) error {
	route := strings.Trim(c.Path(), "/")
	id, events := h.Subscribe(route)
	setStreamHeaders(c)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.Unsubscribe(route, id)
		h.serve(w, events)
	})
	return nil
}

func (h *EventHub) serve(w *bufio.Writer, events <-chan domain.RawEvent) {
	if err := writeComment(w, "connected"); err != nil {
		return
	}
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, e); err != nil {
				return
			}
		case <-ticker.C:
			if err := writeComment(w, "heartbeat"); err != nil {
				return
			}
		}
	}
}
