package docker

import (
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/events"
	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestChangeFromEvent(t *testing.T) {
	id := "0123456789abcdef0123"
	tests := []struct {
		action string
		want   domain.ContainerChange
		ok     bool
	}{
		{"create", domain.ContainerChange{ID: "0123456789ab", Status: "created", Membership: true}, true},
		{"start", domain.ContainerChange{ID: "0123456789ab", Status: "running"}, true},
		{"unpause", domain.ContainerChange{ID: "0123456789ab", Status: "running"}, true},
		{"pause", domain.ContainerChange{ID: "0123456789ab", Status: "paused"}, true},
		{"die", domain.ContainerChange{ID: "0123456789ab", Status: "exited"}, true},
		{"destroy", domain.ContainerChange{ID: "0123456789ab", Status: "removed", Membership: true}, true},
		{"exec_start: sh", domain.ContainerChange{}, false},
		{"attach", domain.ContainerChange{}, false},
	}
	for _, tt := range tests {
		msg := events.Message{Type: events.ContainerEventType, Action: events.Action(tt.action)}
		msg.Actor.ID = id
		got, ok := ChangeFromEvent(msg)
		assert.Equal(t, tt.ok, ok, tt.action)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.action)
		}
	}
}

func TestChangeFromEventWithoutActor(t *testing.T) {
	_, ok := ChangeFromEvent(events.Message{Action: events.Action("start")})
	assert.False(t, ok)
}

func TestParseTags(t *testing.T) {
	assert.Equal(t, []string{"web", "prod"}, parseTags(map[string]string{LabelTags: "web, prod,"}))
	assert.Nil(t, parseTags(map[string]string{}))
}

func TestContainerLabelsRoundTripTags(t *testing.T) {
	labels := containerLabels([]string{"prod", " web ", "", "a,b"})
	assert.Equal(t, "true", labels[LabelManaged])
	assert.Equal(t, "prod,web", labels[LabelTags])
	assert.Equal(t, []string{"prod", "web"}, parseTags(labels))

	_, ok := containerLabels(nil)[LabelTags]
	assert.False(t, ok)
}

func TestContainerFromSummaryUsesLifecycleStatus(t *testing.T) {
	c := containerFromSummary(types.Container{
		ID:     "0123456789abcdef0123",
		Names:  []string{"/web"},
		Image:  "nginx",
		Status: "Up 5 minutes",
		State:  "running",
		Labels: map[string]string{LabelTags: "prod"},
	})

	assert.Equal(t, domain.Container{
		ID:     "0123456789ab",
		Name:   "web",
		Image:  "nginx",
		Status: "running",
		State:  "running",
		Tags:   []string{"prod"},
	}, c)
}
