package domain

import "strings"

// CollectionRoute is the collection-wide event feed for a resource
// collection, e.g. "containers/events".
func CollectionRoute(collection string) string {
	return strings.Trim(collection, "/") + "/events"
}

// ResourceRoute is the event feed of a single resource, e.g.
// "containers/abc/events". An empty id yields an empty route, which callers
// treat as "do not subscribe".
func ResourceRoute(collection, id string) string {
	if id == "" {
		return ""
	}
	return strings.Trim(collection, "/") + "/" + id + "/events"
}
