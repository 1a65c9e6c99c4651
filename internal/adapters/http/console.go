package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
	"github.com/melih/lighthouse-console/internal/events"
	"github.com/melih/lighthouse-console/internal/querycache"
	"github.com/melih/lighthouse-console/internal/viewsync"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ChannelLister reports live event channels.
type ChannelLister interface {
	Channels() []events.ChannelInfo
}

// ConsoleHandler serves the console API: cached reads, mutations that
// invalidate the cache, and view streams kept current by the synchronizer.
type ConsoleHandler struct {
	cache     *querycache.Cache
	platform  ports.PlatformClient
	sync      *viewsync.Synchronizer
	channels  ChannelLister
	heartbeat time.Duration
	logger    zerolog.Logger
}

// NewConsoleHandler creates the console handler.
func NewConsoleHandler(cache *querycache.Cache, platform ports.PlatformClient, sync *viewsync.Synchronizer, channels ChannelLister, heartbeat time.Duration) *ConsoleHandler {
	return &ConsoleHandler{
		cache:     cache,
		platform:  platform,
		sync:      sync,
		channels:  channels,
		heartbeat: heartbeat,
		logger:    log.With().Str("component", "console").Logger(),
	}
}

// Register mounts the console routes on router.
func (h *ConsoleHandler) Register(router fiber.Router) {
	containers := router.Group("/containers")
	containers.Get("/", h.ListContainers)
	containers.Post("/", h.StartContainer)
	containers.Get("/:id", h.GetContainer)
	containers.Delete("/:id", h.StopContainer)
	containers.Get("/:id/logs", h.GetContainerLogs)

	views := router.Group("/views")
	views.Get("/containers", h.WatchContainers)
	views.Get("/containers/:id", h.WatchContainer)

	router.Get("/channels", h.ListChannels)
}

func queryTags(c *fiber.Ctx) []string {
	var tags []string
	for _, v := range c.Context().QueryArgs().PeekMulti("tag") {
		tags = append(tags, string(v))
	}
	return tags
}

func errorStatus(err error) int {
	if errors.Is(err, domain.ErrNotFound) {
		return fiber.StatusNotFound
	}
	return fiber.StatusBadGateway
}

func (h *ConsoleHandler) ListContainers(c *fiber.Ctx) error {
	key := querycache.NewKey(domain.KindContainers, queryTags(c)...)
	containers, err := querycache.ReadAs[[]domain.Container](c.UserContext(), h.cache, key)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if containers == nil {
		containers = []domain.Container{}
	}
	return c.JSON(containers)
}

func (h *ConsoleHandler) GetContainer(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	container, err := querycache.ReadAs[domain.Container](c.UserContext(), h.cache, querycache.NewKey(domain.KindContainer, id))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(container)
}

func (h *ConsoleHandler) StartContainer(c *fiber.Ctx) error {
	var req ports.StartRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Image == "" && req.RepoURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Image name or Repo URL is required",
		})
	}

	id, err := h.platform.StartContainer(c.UserContext(), req)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	h.cache.InvalidateKind(domain.KindContainers)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":    id,
		"image": req.Image,
	})
}

func (h *ConsoleHandler) StopContainer(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	if err := h.platform.StopContainer(c.UserContext(), id); err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	h.cache.InvalidateKind(domain.KindContainers)
	h.cache.Invalidate(querycache.NewKey(domain.KindContainer, id))

	return c.SendStatus(fiber.StatusOK)
}

func (h *ConsoleHandler) GetContainerLogs(c *fiber.Ctx) error {
	logs, err := h.platform.ContainerLogs(c.UserContext(), c.Params("id"))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	c.Set("Content-Type", "text/plain")
	return c.Send(logs)
}

func (h *ConsoleHandler) ListChannels(c *fiber.Ctx) error {
	return c.JSON(h.channels.Channels())
}

// WatchContainers streams container listing snapshots, refreshed whenever
// the listing's membership changes.
func (h *ConsoleHandler) WatchContainers(c *fiber.Ctx) error {
	key := querycache.NewKey(domain.KindContainers, queryTags(c)...)
	return h.serveView(c, viewsync.ContainerListView(nil), key)
}

// WatchContainer streams snapshots of one container, refreshed on every
// status change.
func (h *ConsoleHandler) WatchContainer(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	return h.serveView(c, viewsync.ContainerView(id, nil), querycache.NewKey(domain.KindContainer, id))
}

func (h *ConsoleHandler) serveView(c *fiber.Ctx, view viewsync.View, key querycache.Key) error {
	setStreamHeaders(c)
	c.Context().SetBodyStreamWriter(h.newViewStream(view, key).run)
	return nil
}

func (h *ConsoleHandler) newViewStream(view viewsync.View, key querycache.Key) *viewStream {
	return &viewStream{
		sync:      h.sync,
		view:      view,
		heartbeat: h.heartbeat,
		logger:    h.logger.With().Str("route", view.Route).Logger(),
		read: func(ctx context.Context) (any, error) {
			return h.cache.Read(ctx, key)
		},
	}
}

// viewStream is one browser view: mounted for as long as the stream is
// connected.
type viewStream struct {
	sync      *viewsync.Synchronizer
	view      viewsync.View
	read      func(context.Context) (any, error)
	heartbeat time.Duration
	logger    zerolog.Logger
}

func (s *viewStream) run(w *bufio.Writer) {
	updates := make(chan struct{}, 1)
	disconnected := make(chan error, 1)

	view := s.view
	view.OnUpdate = func(string) {
		select {
		case updates <- struct{}{}:
		default:
		}
	}
	view.OnDisconnect = func(err error) {
		select {
		case disconnected <- err:
		default:
		}
	}

	// Mount before the first read so no change slips in between.
	dispose := s.sync.Mount(view)
	defer dispose()

	if err := s.snapshot(w); err != nil {
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-updates:
			if err := s.snapshot(w); err != nil {
				return
			}
		case err := <-disconnected:
			// Ending the response lets the browser reconnect, which mounts
			// the view again on a fresh channel.
			s.logger.Info().Err(err).Msg("Upstream event channel ended, closing view")
			_ = writeEvent(w, domain.RawEvent{Type: "disconnected", Data: errorData(err)})
			return
		case <-ticker.C:
			if err := writeComment(w, "heartbeat"); err != nil {
				s.logger.Debug().Err(err).Msg("View client gone")
				return
			}
		}
	}
}

func (s *viewStream) snapshot(w *bufio.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	value, err := s.read(ctx)
	if err != nil {
		return writeEvent(w, domain.RawEvent{Type: "error", Data: errorData(err)})
	}
	data, err := json.Marshal(value)
	if err != nil {
		return writeEvent(w, domain.RawEvent{Type: "error", Data: errorData(err)})
	}
	return writeEvent(w, domain.RawEvent{Type: "snapshot", Data: string(data)})
}
