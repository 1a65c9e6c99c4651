package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event type names pushed by the platform.
const (
	EventStatusChange = "status_change"
	EventChange       = "change"
)

// ErrMalformedEvent is returned when an event body cannot be parsed into the
// shape its type requires.
var ErrMalformedEvent = errors.New("malformed event payload")

// RawEvent is a named event as it comes off the wire.
type RawEvent struct {
	Type string
	Data string
}

// Event is the closed set of parsed platform events. Consumers switch on the
// concrete type.
type Event interface {
	EventType() string
	isEvent()
}

// StatusChanged replaces the status of the resource the route is scoped to.
type StatusChanged struct {
	Status string
}

// CollectionChanged signals that a collection changed shape (create, delete,
// membership). It carries nothing worth patching.
type CollectionChanged struct{}

// Unrecognized is any event type the console does not know about.
type Unrecognized struct {
	Type string
	Data string
}

func (StatusChanged) EventType() string     { return EventStatusChange }
func (CollectionChanged) EventType() string { return EventChange }
func (u Unrecognized) EventType() string    { return u.Type }

func (StatusChanged) isEvent()     {}
func (CollectionChanged) isEvent() {}
func (Unrecognized) isEvent()      {}

// ParseEvent converts a raw event into its typed variant.
//
// Status bodies may be a bare string (running) or a JSON-encoded string
// ("running"). An empty or non-string JSON body is malformed.
func ParseEvent(raw RawEvent) (Event, error) {
	switch raw.Type {
	case EventStatusChange:
		status, err := parseStatus(raw.Data)
		if err != nil {
			return nil, err
		}
		return StatusChanged{Status: status}, nil
	case EventChange:
		return CollectionChanged{}, nil
	default:
		return Unrecognized{Type: raw.Type, Data: raw.Data}, nil
	}
}

func parseStatus(data string) (string, error) {
	body := strings.TrimSpace(data)
	if body == "" {
		return "", fmt.Errorf("%w: empty status", ErrMalformedEvent)
	}
	switch body[0] {
	case '"':
		var status string
		if err := json.Unmarshal([]byte(body), &status); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if status == "" {
			return "", fmt.Errorf("%w: empty status", ErrMalformedEvent)
		}
		return status, nil
	case '{', '[':
		return "", fmt.Errorf("%w: status must be a string", ErrMalformedEvent)
	}
	return body, nil
}
