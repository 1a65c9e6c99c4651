// Package sse implements the event transport over Server-Sent Events.
package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport opens SSE streams under a base URL.
type Transport struct {
	baseURL string
	token   string
	client  *http.Client
	buffer  int
	logger  zerolog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithToken sends the token as a bearer credential.
func WithToken(token string) Option {
	return func(t *Transport) { t.token = token }
}

// WithHTTPClient replaces the default client. It must not set a total
// request timeout, since streams are long lived.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) { t.client = client }
}

// WithBuffer sets how many undelivered events a stream holds before the
// reader blocks.
func WithBuffer(n int) Option {
	return func(t *Transport) { t.buffer = n }
}

// NewTransport creates a transport rooted at baseURL.
func NewTransport(baseURL string, opts ...Option) *Transport {
	t := &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		buffer:  64,
		logger:  log.With().Str("component", "sse").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect opens the stream for route. The returned stream lives until ctx
// is cancelled, Close is called, or the server ends the response.
func (t *Transport) Connect(ctx context.Context, route string) (ports.EventStream, error) {
	url := t.baseURL + "/" + strings.TrimLeft(route, "/")
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create event request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to %s: %w", route, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("failed to connect to %s: status %d: %s", route, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	s := &stream{
		events: make(chan domain.RawEvent, t.buffer),
		body:   resp.Body,
		cancel: cancel,
	}
	t.logger.Debug().Str("route", route).Msg("Event stream connected")
	go s.read(ctx)
	return s, nil
}

type stream struct {
	events chan domain.RawEvent
	body   io.ReadCloser
	cancel context.CancelFunc

	mu      sync.Mutex
	err     error
	closed  bool
	closing sync.Once
}

func (s *stream) Events() <-chan domain.RawEvent { return s.events }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	var err error
	s.closing.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		err = s.body.Close()
	})
	return err
}

func (s *stream) read(ctx context.Context) {
	defer close(s.events)
	defer s.body.Close()

	scanner := NewScanner(s.body)
	for scanner.Next() {
		select {
		case s.events <- scanner.Event():
		case <-ctx.Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.err = err
	}
}
