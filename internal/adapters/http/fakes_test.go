package http

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
)

// stubPlatform is an in-memory ports.PlatformClient that counts calls.
type stubPlatform struct {
	mu         sync.Mutex
	containers map[string]domain.Container
	calls      map[string]int
	started    []ports.StartRequest
	stopped    []string
}

func newStubPlatform(containers ...domain.Container) *stubPlatform {
	p := &stubPlatform{
		containers: make(map[string]domain.Container),
		calls:      make(map[string]int),
	}
	for _, c := range containers {
		p.containers[c.ID] = c
	}
	return p
}

func (p *stubPlatform) count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *stubPlatform) setStatus(id, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.containers[id]
	c.Status = status
	p.containers[id] = c
}

func (p *stubPlatform) ListContainers(ctx context.Context, tags []string) ([]domain.Container, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["list"]++
	var result []domain.Container
	for _, c := range p.containers {
		if c.HasTags(tags) {
			result = append(result, c)
		}
	}
	return result, nil
}

func (p *stubPlatform) GetContainer(ctx context.Context, id string) (domain.Container, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["get"]++
	c, ok := p.containers[id]
	if !ok {
		return domain.Container{}, domain.ErrNotFound
	}
	return c, nil
}

func (p *stubPlatform) StartContainer(ctx context.Context, req ports.StartRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["start"]++
	p.started = append(p.started, req)
	return "new", nil
}

func (p *stubPlatform) StopContainer(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["stop"]++
	if _, ok := p.containers[id]; !ok {
		return domain.ErrNotFound
	}
	p.stopped = append(p.stopped, id)
	return nil
}

func (p *stubPlatform) ContainerLogs(ctx context.Context, id string) ([]byte, error) {
	return []byte("hello from " + id + "\n"), nil
}

// stubStream is an EventStream fed by the test.
type stubStream struct {
	events chan domain.RawEvent
	once   sync.Once
	mu     sync.Mutex
	err    error
}

func (s *stubStream) Events() <-chan domain.RawEvent { return s.events }

func (s *stubStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stubStream) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

func (s *stubStream) drop(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.Close()
}

// stubTransport hands each connected stream to the test.
type stubTransport struct {
	connected chan *stubStream
}

func newStubTransport() *stubTransport {
	return &stubTransport{connected: make(chan *stubStream, 8)}
}

func (t *stubTransport) Connect(ctx context.Context, route string) (ports.EventStream, error) {
	s := &stubStream{events: make(chan domain.RawEvent, 8)}
	t.connected <- s
	return s, nil
}

// stubService is an in-memory ports.ContainerService.
type stubService struct {
	containers []domain.Container
	started    []string
	tags       [][]string
	failStart  error
}

func (s *stubService) ListContainers(ctx context.Context) ([]domain.Container, error) {
	return s.containers, nil
}

func (s *stubService) GetContainer(ctx context.Context, id string) (domain.Container, error) {
	for _, c := range s.containers {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.Container{}, domain.ErrNotFound
}

func (s *stubService) StartContainer(ctx context.Context, image string, tags []string) (string, error) {
	if s.failStart != nil {
		return "", s.failStart
	}
	s.started = append(s.started, image)
	s.tags = append(s.tags, tags)
	return "c-" + image, nil
}

func (s *stubService) StopContainer(ctx context.Context, id string) error {
	if _, err := s.GetContainer(ctx, id); err != nil {
		return err
	}
	return nil
}

func (s *stubService) GetContainerLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("log line\n")), nil
}

// stubBuilder records builds.
type stubBuilder struct {
	repos  []string
	images []string
	err    error
}

func (b *stubBuilder) BuildImage(ctx context.Context, repoURL string, imageName string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	b.repos = append(b.repos, repoURL)
	b.images = append(b.images, imageName)
	return imageName, nil
}

// syncBuffer is a goroutine-safe io.Writer for stream output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// failingWriter rejects every write, like a client that went away.
type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, io.ErrClosedPipe }
