package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Labels set on containers started by platformd.
const (
	LabelManaged = "lighthouse.managed"
	LabelTags    = "lighthouse.tags"
)

// Adapter implements ports.ContainerService and ports.ContainerWatcher
// using the Docker SDK
type Adapter struct {
	cli         *client.Client
	stopTimeout time.Duration
	logger      zerolog.Logger
}

// NewAdapter creates a new Docker adapter instance
func NewAdapter() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{
		cli:         cli,
		stopTimeout: 10 * time.Second,
		logger:      log.With().Str("component", "docker").Logger(),
	}, nil
}

// Client exposes the underlying SDK client so the builder can share it.
func (a *Adapter) Client() *client.Client {
	return a.cli
}

// Close releases the SDK client.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func parseTags(labels map[string]string) []string {
	raw := labels[LabelTags]
	if raw == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func containerLabels(tags []string) map[string]string {
	labels := map[string]string{LabelManaged: "true"}
	var clean []string
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" && !strings.Contains(t, ",") {
			clean = append(clean, t)
		}
	}
	if len(clean) > 0 {
		labels[LabelTags] = strings.Join(clean, ",")
	}
	return labels
}

// ListContainers returns all containers, running or not
func (a *Adapter) ListContainers(ctx context.Context) ([]domain.Container, error) {
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]domain.Container, 0, len(containers))
	for _, c := range containers {
		result = append(result, containerFromSummary(c))
	}
	return result, nil
}

// containerFromSummary converts a list entry. Status carries the lifecycle
// word (running, exited, ...) that status_change events report rather than
// Docker's "Up 5 minutes" text, so a patched row agrees with a fetched one.
func containerFromSummary(c types.Container) domain.Container {
	// Use the first name if available, remove slash
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	ip := ""
	if c.NetworkSettings != nil {
		for _, network := range c.NetworkSettings.Networks {
			if network != nil && network.IPAddress != "" {
				ip = network.IPAddress
				break
			}
		}
	}

	return domain.Container{
		ID:        shortID(c.ID),
		Name:      name,
		Image:     c.Image,
		Status:    c.State,
		State:     c.State,
		IPAddress: ip,
		Tags:      parseTags(c.Labels),
	}
}

// GetContainer inspects a single container
func (a *Adapter) GetContainer(ctx context.Context, id string) (domain.Container, error) {
	info, err := a.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return domain.Container{}, fmt.Errorf("container %s: %w", id, domain.ErrNotFound)
		}
		return domain.Container{}, fmt.Errorf("failed to inspect container: %w", err)
	}

	c := domain.Container{
		ID:   shortID(info.ID),
		Name: strings.TrimPrefix(info.Name, "/"),
	}
	if info.Config != nil {
		c.Image = info.Config.Image
		c.Tags = parseTags(info.Config.Labels)
	}
	if info.State != nil {
		c.State = info.State.Status
		c.Status = info.State.Status
	}
	if info.NetworkSettings != nil {
		c.IPAddress = info.NetworkSettings.IPAddress
	}
	return c, nil
}

// StartContainer creates and starts a container from a given image,
// labelled with tags so tag-filtered listings find it
func (a *Adapter) StartContainer(ctx context.Context, image string, tags []string) (string, error) {
	// Locally built images have nothing to pull
	if _, _, err := a.cli.ImageInspectWithRaw(ctx, image); err != nil {
		a.logger.Info().Str("image", image).Msg("Pulling image")
		reader, err := a.cli.ImagePull(ctx, image, types.ImagePullOptions{})
		if err != nil {
			return "", fmt.Errorf("failed to pull image: %w", err)
		}
		_, err = io.Copy(logging.Writer("docker"), reader)
		reader.Close()
		if err != nil {
			return "", fmt.Errorf("failed to pull image: %w", err)
		}
	}

	resp, err := a.cli.ContainerCreate(ctx, &container.Config{
		Image:  image,
		Labels: containerLabels(tags),
	}, nil, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	return shortID(resp.ID), nil
}

// StopContainer stops a running container
func (a *Adapter) StopContainer(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, a.stopTimeout+5*time.Second)
	defer cancel()
	timeout := int(a.stopTimeout.Seconds())
	if err := a.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("container %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// GetContainerLogs returns the container's demultiplexed stdout and stderr
func (a *Adapter) GetContainerLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     false,
		Timestamps: true,
		Tail:       "500",
	}
	raw, err := a.cli.ContainerLogs(ctx, id, options)
	if err != nil {
		return nil, fmt.Errorf("failed to get container logs: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, raw)
		raw.Close()
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// WatchContainers streams container lifecycle changes from the Docker
// events API. Both channels are abandoned when ctx ends.
func (a *Adapter) WatchContainers(ctx context.Context) (<-chan domain.ContainerChange, <-chan error) {
	messages, errs := a.cli.Events(ctx, types.EventsOptions{
		Filters: filters.NewArgs(filters.Arg("type", "container")),
	})

	changes := make(chan domain.ContainerChange)
	go func() {
		defer close(changes)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				change, ok := ChangeFromEvent(msg)
				if !ok {
					continue
				}
				a.logger.Debug().Str("container_id", change.ID).Str("action", string(msg.Action)).Msg("Container event")
				select {
				case changes <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return changes, errs
}

// ChangeFromEvent maps a Docker container event to a lifecycle change.
// Events that do not move a container between states are skipped.
func ChangeFromEvent(msg events.Message) (domain.ContainerChange, bool) {
	change := domain.ContainerChange{ID: shortID(msg.Actor.ID)}
	if change.ID == "" {
		return change, false
	}

	switch string(msg.Action) {
	case "create":
		change.Status, change.Membership = "created", true
	case "start", "unpause", "restart":
		change.Status = "running"
	case "pause":
		change.Status = "paused"
	case "die", "stop", "kill":
		change.Status = "exited"
	case "destroy":
		change.Status, change.Membership = "removed", true
	default:
		return change, false
	}
	return change, true
}
