package ports

import (
	"context"
	"io"

	"github.com/melih/lighthouse-console/internal/core/domain"
)

// ContainerService defines the core operations for managing containers on
// the platform side. platformd implements it with Docker.
type ContainerService interface {
	ListContainers(ctx context.Context) ([]domain.Container, error)
	GetContainer(ctx context.Context, id string) (domain.Container, error)
	StartContainer(ctx context.Context, image string, tags []string) (string, error)
	StopContainer(ctx context.Context, id string) error
	GetContainerLogs(ctx context.Context, id string) (io.ReadCloser, error)
}

// BuilderService turns a git repository into a runnable image tagged
// imageName, returning the tag on success.
type BuilderService interface {
	BuildImage(ctx context.Context, repoURL string, imageName string) (string, error)
}

// ContainerWatcher streams container lifecycle changes. Each delivered change
// names the container and its new status.
type ContainerWatcher interface {
	WatchContainers(ctx context.Context) (<-chan domain.ContainerChange, <-chan error)
}

// StartRequest is what a client sends to deploy a container, either from an
// existing image or built from a git repository.
type StartRequest struct {
	Image   string   `json:"image"`
	RepoURL string   `json:"repo_url"`
	Tags    []string `json:"tags,omitempty"`
}

// PlatformClient is the console's view of the platform API.
type PlatformClient interface {
	ListContainers(ctx context.Context, tags []string) ([]domain.Container, error)
	GetContainer(ctx context.Context, id string) (domain.Container, error)
	StartContainer(ctx context.Context, req StartRequest) (string, error)
	StopContainer(ctx context.Context, id string) error
	ContainerLogs(ctx context.Context, id string) ([]byte, error)
}
