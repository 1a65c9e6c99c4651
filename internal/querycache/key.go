package querycache

import (
	"sort"
	"strings"
)

// Key addresses a cached query: the resource kind plus a canonical form of
// its filter parameters.
type Key struct {
	Kind   string
	Filter string
}

// NewKey builds a key whose filter is the sorted, de-duplicated join of
// params, so the same tag set in any order maps to one entry. The key owns
// copies of its strings: request parameters may point into buffers that are
// reused once the request ends.
func NewKey(kind string, params ...string) Key {
	if len(params) == 0 {
		return Key{Kind: strings.Clone(kind)}
	}
	sorted := make([]string, 0, len(params))
	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)
	return Key{Kind: strings.Clone(kind), Filter: strings.Clone(strings.Join(sorted, ","))}
}

// Params splits the filter back into its parameters.
func (k Key) Params() []string {
	if k.Filter == "" {
		return nil
	}
	return strings.Split(k.Filter, ",")
}

func (k Key) String() string {
	return k.Kind + "?" + k.Filter
}
