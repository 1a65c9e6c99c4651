package domain

// Resource kinds the console caches.
const (
	KindContainers = "containers" // collection, filtered by tag set
	KindContainer  = "container"  // single container, filtered by id
)

// Container represents a container running on the platform.
//
// Status is the live lifecycle word (created, running, paused, exited,
// removed). status_change events carry it and patch it in place. State is
// the platform's state as of the last fetch and is only refreshed by a
// refetch, so the two can differ while a cached copy is being patched.
type Container struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Image     string   `json:"image"`
	Status    string   `json:"status"`
	State     string   `json:"state"`
	IPAddress string   `json:"ip_address,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// ContainerPatch carries a partial update for a container. Nil fields are
// left untouched when the patch is applied.
type ContainerPatch struct {
	Status *string
	State  *string
}

// Apply returns a copy of c with the patch's present fields replaced, and
// whether anything actually changed.
func (p ContainerPatch) Apply(c Container) (Container, bool) {
	changed := false
	if p.Status != nil && c.Status != *p.Status {
		c.Status = *p.Status
		changed = true
	}
	if p.State != nil && c.State != *p.State {
		c.State = *p.State
		changed = true
	}
	return c, changed
}

// PatchList applies p to the container with the given id inside list. The
// input slice is never modified; a new slice is returned only if the patch
// changed something.
func (p ContainerPatch) PatchList(list []Container, id string) ([]Container, bool) {
	for i := range list {
		if list[i].ID != id {
			continue
		}
		patched, changed := p.Apply(list[i])
		if !changed {
			return list, false
		}
		out := make([]Container, len(list))
		copy(out, list)
		out[i] = patched
		return out, true
	}
	return list, false
}

// HasTags reports whether the container carries every tag in tags.
func (c Container) HasTags(tags []string) bool {
	for _, want := range tags {
		found := false
		for _, have := range c.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ContainerChange is a lifecycle transition observed on the platform.
type ContainerChange struct {
	ID     string
	Status string
	// Membership is true when the change adds or removes the container
	// from listings (create, destroy) rather than only moving its status.
	Membership bool
}
