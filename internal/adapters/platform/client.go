// Package platform is the console's REST client for the platform API.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
	"github.com/melih/lighthouse-console/internal/querycache"
)

// ErrNotFound is returned when the platform answers 404.
var ErrNotFound = domain.ErrNotFound

// StatusError is a non-success platform response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform returned %d: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is match ErrNotFound on 404 responses.
func (e *StatusError) Unwrap() error {
	if e.Code == fiber.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Client talks to the platform API.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *fiber.Client
}

// NewClient creates a client rooted at baseURL.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: timeout,
		http: &fiber.Client{
			JSONEncoder: json.Marshal,
			JSONDecoder: json.Unmarshal,
		},
	}
}

var _ ports.PlatformClient = (*Client)(nil)

// ListContainers lists containers carrying every tag in tags.
func (c *Client) ListContainers(ctx context.Context, tags []string) ([]domain.Container, error) {
	query := ""
	if len(tags) > 0 {
		query = url.Values{"tag": tags}.Encode()
	}
	var containers []domain.Container
	if err := c.do(ctx, c.agent(c.http.Get(c.baseURL+"/containers")).QueryString(query), &containers); err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	return containers, nil
}

// GetContainer fetches one container.
func (c *Client) GetContainer(ctx context.Context, id string) (domain.Container, error) {
	var container domain.Container
	if err := c.do(ctx, c.agent(c.http.Get(c.containerURL(id))), &container); err != nil {
		return domain.Container{}, fmt.Errorf("failed to get container %s: %w", id, err)
	}
	return container, nil
}

// StartContainer deploys a container and returns its id.
func (c *Client) StartContainer(ctx context.Context, req ports.StartRequest) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, c.agent(c.http.Post(c.baseURL+"/containers")).JSON(req), &resp); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}
	return resp.ID, nil
}

// StopContainer stops a container. The container stays listed with an
// exited status until it is removed on the platform.
func (c *Client) StopContainer(ctx context.Context, id string) error {
	if err := c.do(ctx, c.agent(c.http.Delete(c.containerURL(id))), nil); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", id, err)
	}
	return nil
}

// ContainerLogs returns the container's recent log output.
func (c *Client) ContainerLogs(ctx context.Context, id string) ([]byte, error) {
	body, err := c.raw(ctx, c.agent(c.http.Get(c.containerURL(id)+"/logs")))
	if err != nil {
		return nil, fmt.Errorf("failed to get logs for %s: %w", id, err)
	}
	return body, nil
}

func (c *Client) containerURL(id string) string {
	return c.baseURL + "/containers/" + url.PathEscape(id)
}

func (c *Client) agent(a *fiber.Agent) *fiber.Agent {
	if c.token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	if c.timeout > 0 {
		a.Timeout(c.timeout)
	}
	return a
}

func (c *Client) do(ctx context.Context, a *fiber.Agent, out any) error {
	body, err := c.raw(ctx, a)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// raw sends the request. fasthttp agents cannot be cancelled mid-flight, so
// ctx is only checked before sending; the agent timeout bounds the call.
func (c *Client) raw(ctx context.Context, a *fiber.Agent) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		fiber.ReleaseAgent(a)
		return nil, err
	}
	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if code < 200 || code > 299 {
		return nil, &StatusError{Code: code, Message: errorMessage(body)}
	}
	return body, nil
}

// errorMessage extracts {"error": "..."} bodies, falling back to the raw text.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// RegisterFetchers wires the client into cache as the fetcher for container
// kinds.
func RegisterFetchers(cache *querycache.Cache, client ports.PlatformClient) {
	cache.Register(domain.KindContainers, func(ctx context.Context, key querycache.Key) (any, error) {
		return client.ListContainers(ctx, key.Params())
	})
	cache.Register(domain.KindContainer, func(ctx context.Context, key querycache.Key) (any, error) {
		return client.GetContainer(ctx, key.Filter)
	})
}
