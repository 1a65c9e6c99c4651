// Package viewsync keeps cached view data in step with server-pushed
// events for as long as a view is mounted.
package viewsync

import (
	"sync"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/events"
	"github.com/melih/lighthouse-console/internal/metrics"
	"github.com/melih/lighthouse-console/internal/querycache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Registry is the part of events.Manager the synchronizer needs.
type Registry interface {
	Open(route string) *events.Handle
	RegisterEventCallback(h *events.Handle, eventType string, callback events.Callback)
	DeregisterEventCallback(h *events.Handle, eventType string)
	Close(h *events.Handle)
}

// Binding applies Strategy to every event of EventType.
type Binding struct {
	EventType string
	Strategy  Strategy
}

// View is one mounted consumer of a route.
type View struct {
	// Route is the event route; empty disables the view.
	Route    string
	Bindings []Binding
	// OnUpdate runs after an event was applied to the cache.
	OnUpdate func(eventType string)
	// OnDisconnect runs if the channel ends while the view is mounted.
	OnDisconnect func(err error)
}

// Synchronizer mounts views against a shared registry and cache.
type Synchronizer struct {
	registry Registry
	cache    *querycache.Cache
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// New creates a synchronizer.
func New(registry Registry, cache *querycache.Cache) *Synchronizer {
	return &Synchronizer{
		registry: registry,
		cache:    cache,
		logger:   log.With().Str("component", "viewsync").Logger(),
		metrics:  metrics.GetMetrics(),
	}
}

// Mount subscribes the view and returns the function that unsubscribes it.
// The returned function is safe to call more than once.
func (s *Synchronizer) Mount(v View) (dispose func()) {
	if v.Route == "" || len(v.Bindings) == 0 {
		return func() {}
	}

	byType := make(map[string][]Strategy)
	var order []string
	for _, b := range v.Bindings {
		if _, ok := byType[b.EventType]; !ok {
			order = append(order, b.EventType)
		}
		byType[b.EventType] = append(byType[b.EventType], b.Strategy)
	}

	h := s.registry.Open(v.Route)
	for _, eventType := range order {
		strategies := byType[eventType]
		s.registry.RegisterEventCallback(h, eventType, func(raw domain.RawEvent) {
			s.apply(v, strategies, raw)
		})
	}
	s.metrics.ViewsMounted.Inc()

	stop := make(chan struct{})
	if v.OnDisconnect != nil {
		go func() {
			select {
			case <-h.Done():
				select {
				case <-stop:
				default:
					v.OnDisconnect(h.Err())
				}
			case <-stop:
			}
		}()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			for _, eventType := range order {
				s.registry.DeregisterEventCallback(h, eventType)
			}
			s.registry.Close(h)
			s.metrics.ViewsMounted.Dec()
		})
	}
}

func (s *Synchronizer) apply(v View, strategies []Strategy, raw domain.RawEvent) {
	event, err := domain.ParseEvent(raw)
	if err != nil {
		s.metrics.SyncDroppedTotal.WithLabelValues("malformed").Inc()
		s.logger.Debug().Err(err).Str("route", v.Route).Str("event_type", raw.Type).Msg("Ignoring malformed event")
		return
	}

	applied := false
	for _, strategy := range strategies {
		if strategy.Apply(s.cache, event) {
			s.metrics.SyncAppliedTotal.WithLabelValues(strategy.Name()).Inc()
			applied = true
		}
	}
	if !applied {
		s.metrics.SyncDroppedTotal.WithLabelValues("unhandled").Inc()
		return
	}
	if v.OnUpdate != nil {
		v.OnUpdate(raw.Type)
	}
}

// ContainerView keeps a single container's cached copies current.
func ContainerView(id string, onUpdate func(string)) View {
	return View{
		Route: domain.ResourceRoute(domain.KindContainers, id),
		Bindings: []Binding{
			{EventType: domain.EventStatusChange, Strategy: PatchContainer(id)},
			{EventType: domain.EventChange, Strategy: InvalidateKey(querycache.NewKey(domain.KindContainer, id))},
		},
		OnUpdate: onUpdate,
	}
}

// ContainerListView refetches container listings whenever membership
// changes.
func ContainerListView(onUpdate func(string)) View {
	return View{
		Route: domain.CollectionRoute(domain.KindContainers),
		Bindings: []Binding{
			{EventType: domain.EventChange, Strategy: InvalidateKind(domain.KindContainers)},
		},
		OnUpdate: onUpdate,
	}
}
