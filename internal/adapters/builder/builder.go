package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/go-git/go-git/v5"
	"github.com/melih/lighthouse-console/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Adapter implements ports.BuilderService: clone with go-git, build with
// Docker.
type Adapter struct {
	cli    *client.Client
	logger zerolog.Logger
}

// NewBuilderAdapter creates a builder sharing the given Docker client.
func NewBuilderAdapter(cli *client.Client) *Adapter {
	return &Adapter{
		cli:    cli,
		logger: log.With().Str("component", "builder").Logger(),
	}
}

// BuildImage clones a repo and builds a Docker image tagged imageName
func (a *Adapter) BuildImage(ctx context.Context, repoURL string, imageName string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "lighthouse-build-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	a.logger.Info().Str("repo", repoURL).Str("dir", tmpDir).Msg("Cloning repository")
	_, err = git.PlainCloneContext(ctx, tmpDir, false, &git.CloneOptions{
		URL:      repoURL,
		Progress: logging.Writer("builder"),
		Depth:    1, // Shallow clone for speed
	})
	if err != nil {
		return "", fmt.Errorf("failed to clone repo: %w", err)
	}

	if _, err := os.Stat(tmpDir + "/Dockerfile"); err != nil {
		return "", fmt.Errorf("repository has no Dockerfile: %w", err)
	}

	buildContext, err := archive.TarWithOptions(tmpDir, &archive.TarOptions{
		ExcludePatterns: []string{".git"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create build context: %w", err)
	}
	defer buildContext.Close()

	a.logger.Info().Str("image", imageName).Msg("Building image")
	resp, err := a.cli.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:       []string{imageName},
		Dockerfile: "Dockerfile",
		Remove:     true, // Remove intermediate containers
	})
	if err != nil {
		return "", fmt.Errorf("failed to build image: %w", err)
	}
	defer resp.Body.Close()

	if err := a.drain(resp.Body); err != nil {
		return "", fmt.Errorf("failed to build image: %w", err)
	}
	return imageName, nil
}

// drain reads the build output to completion. The daemon reports build
// failures inside the stream rather than as an HTTP error.
func (a *Adapter) drain(body io.Reader) error {
	decoder := json.NewDecoder(body)
	for {
		var msg jsonmessage.JSONMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if msg.Error != nil {
			return msg.Error
		}
		if msg.Stream != "" {
			a.logger.Debug().Msg(msg.Stream)
		}
	}
}
