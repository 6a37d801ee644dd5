package ordering

import (
	"fmt"
	"time"
)

// Resource names a kind of ordered content. Each resource keeps its own
// sibling scopes, e.g. all videos under one topic.
type Resource string

const (
	Topics    Resource = "topics"
	Chapters  Resource = "chapters"
	Videos    Resource = "videos"
	Materials Resource = "materials"
	Links     Resource = "links"
)

var knownResources = map[Resource]bool{
	Topics:    true,
	Chapters:  true,
	Videos:    true,
	Materials: true,
	Links:     true,
}

// ParseResource validates a resource name taken from a URL or config.
func ParseResource(s string) (Resource, error) {
	r := Resource(s)
	if !knownResources[r] {
		return "", fmt.Errorf("%w: %q", ErrUnknownResource, s)
	}
	return r, nil
}

// ItemID is the stable identity of an item, independent of its order.
type ItemID string

// ScopeID identifies the parent an item's order is unique within.
type ScopeID string

// Scope is one sibling collection: a resource under a single parent.
type Scope struct {
	Resource Resource
	ID       ScopeID
}

func (s Scope) String() string {
	return string(s.Resource) + "/" + string(s.ID)
}

// Item is a single ordered content item. Within its Scope the Order values
// of all items are exactly 1..N.
type Item struct {
	ID        ItemID            `json:"id"`
	Resource  Resource          `json:"resource"`
	ScopeID   ScopeID           `json:"scopeId"`
	Order     int               `json:"order"`
	Title     string            `json:"title"`
	Location  string            `json:"location,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Scope returns the sibling scope the item belongs to.
func (it Item) Scope() Scope {
	return Scope{Resource: it.Resource, ID: it.ScopeID}
}

// Draft is the caller-supplied part of a new item. Identity, order and
// timestamps are assigned on Append.
type Draft struct {
	Resource Resource
	ScopeID  ScopeID
	Title    string
	Location string
	Metadata map[string]string
}
