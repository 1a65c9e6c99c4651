package ports

import (
	"context"

	"github.com/melih/lighthouse-console/internal/core/domain"
)

// EventStream is one live server-pushed event connection.
type EventStream interface {
	// Events yields events in the order the server sent them. It is closed
	// when the stream ends for any reason.
	Events() <-chan domain.RawEvent
	// Err reports why the stream ended; nil after a clean Close.
	Err() error
	Close() error
}

// EventTransport opens event streams for routes such as
// "containers/abc/events".
type EventTransport interface {
	Connect(ctx context.Context, route string) (EventStream, error)
}
