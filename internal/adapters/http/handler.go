package http

import (
	"errors"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
	"github.com/rs/zerolog/log"
)

// ContainerHandler serves the platform container API on platformd.
type ContainerHandler struct {
	service      ports.ContainerService
	builder      ports.BuilderService
	hub          *EventHub
	buildTimeout time.Duration
}

func NewContainerHandler(service ports.ContainerService, builder ports.BuilderService, hub *EventHub, buildTimeout time.Duration) *ContainerHandler {
	return &ContainerHandler{service: service, builder: builder, hub: hub, buildTimeout: buildTimeout}
}

// Register mounts the platform routes. Event feeds are registered before
// the :id routes so "events" is never taken for an id.
func (h *ContainerHandler) Register(router fiber.Router) {
	containers := router.Group("/containers")
	containers.Get("/events", h.hub.Stream)
	containers.Get("/", h.ListContainers)
	containers.Post("/", h.StartContainer)
	containers.Get("/:id", h.GetContainer)
	containers.Delete("/:id", h.StopContainer)
	containers.Get("/:id/logs", h.GetContainerLogs)
	containers.Get("/:id/events", h.hub.Stream)
}

func (h *ContainerHandler) ListContainers(c *fiber.Ctx) error {
	containers, err := h.service.ListContainers(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	tags := queryTags(c)
	result := make([]domain.Container, 0, len(containers))
	for _, container := range containers {
		if container.HasTags(tags) {
			result = append(result, container)
		}
	}
	return c.JSON(result)
}

func (h *ContainerHandler) GetContainer(c *fiber.Ctx) error {
	container, err := h.service.GetContainer(c.UserContext(), c.Params("id"))
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, domain.ErrNotFound) {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(container)
}

var imageNameUnsafe = regexp.MustCompile(`[^a-z0-9._-]+`)

// imageNameFromRepo derives a local image tag from a repository URL, e.g.
// https://github.com/acme/Web-App.git -> lighthouse/web-app:latest.
func imageNameFromRepo(repoURL string) string {
	name := strings.TrimSuffix(path.Base(strings.TrimRight(repoURL, "/")), ".git")
	name = strings.Trim(imageNameUnsafe.ReplaceAllString(strings.ToLower(name), "-"), "-.")
	if name == "" {
		name = "app"
	}
	return "lighthouse/" + name + ":latest"
}

func (h *ContainerHandler) StartContainer(c *fiber.Ctx) error {
	var req ports.StartRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	imageToRun := req.Image
	if req.RepoURL != "" {
		if imageToRun == "" {
			imageToRun = imageNameFromRepo(req.RepoURL)
		}
		// Builds block the request; the timeout keeps a stuck build from
		// holding the connection forever.
		ctx, cancel := contextWithTimeout(c, h.buildTimeout)
		defer cancel()
		if _, err := h.builder.BuildImage(ctx, req.RepoURL, imageToRun); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Build failed: " + err.Error(),
			})
		}
	} else if imageToRun == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Image name or Repo URL is required",
		})
	}

	containerID, err := h.service.StartContainer(c.UserContext(), imageToRun, req.Tags)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	log.Info().Str("container_id", containerID).Str("image", imageToRun).Msg("Container started")

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":    containerID,
		"image": imageToRun,
	})
}

func (h *ContainerHandler) StopContainer(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.service.StopContainer(c.UserContext(), id); err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, domain.ErrNotFound) {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *ContainerHandler) GetContainerLogs(c *fiber.Ctx) error {
	logs, err := h.service.GetContainerLogs(c.UserContext(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	c.Set("Content-Type", "text/plain")
	// SendStream closes logs once the body is written
	return c.SendStream(logs)
}
