package viewsync

import (
	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/querycache"
)

// Strategy turns a parsed event into a cache update. Apply reports whether
// the event was one the strategy handles; a handled event that matched no
// cached entry is still applied (as a no-op).
type Strategy interface {
	Name() string
	Apply(cache *querycache.Cache, event domain.Event) bool
}

type patchContainer struct {
	id string
}

// PatchContainer merges StatusChanged events into every cached copy of the
// container with the given id: its own entry and its row in any cached
// listing. Other fields and other containers are left alone.
func PatchContainer(id string) Strategy {
	return patchContainer{id: id}
}

func (p patchContainer) Name() string { return "patch" }

func (p patchContainer) Apply(cache *querycache.Cache, event domain.Event) bool {
	changed, ok := event.(domain.StatusChanged)
	if !ok {
		return false
	}
	patch := domain.ContainerPatch{Status: &changed.Status}

	cache.Patch(domain.KindContainer, func(key querycache.Key, value any) (any, bool) {
		c, ok := value.(domain.Container)
		if !ok || key.Filter != p.id {
			return value, false
		}
		return patch.Apply(c)
	})
	cache.Patch(domain.KindContainers, func(key querycache.Key, value any) (any, bool) {
		list, ok := value.([]domain.Container)
		if !ok {
			return value, false
		}
		return patch.PatchList(list, p.id)
	})
	return true
}

type invalidateKind struct {
	kind string
}

// InvalidateKind marks every cached query of kind stale on any event.
func InvalidateKind(kind string) Strategy {
	return invalidateKind{kind: kind}
}

func (i invalidateKind) Name() string { return "invalidate" }

func (i invalidateKind) Apply(cache *querycache.Cache, event domain.Event) bool {
	cache.InvalidateKind(i.kind)
	return true
}

type invalidateKey struct {
	key querycache.Key
}

// InvalidateKey marks one cached query stale on any event.
func InvalidateKey(key querycache.Key) Strategy {
	return invalidateKey{key: key}
}

func (i invalidateKey) Name() string { return "invalidate" }

func (i invalidateKey) Apply(cache *querycache.Cache, event domain.Event) bool {
	cache.Invalidate(i.key)
	return true
}
