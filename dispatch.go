package tiled

import (
	"fmt"
	"sort"
	"sync"
)

// Tag is the two-part kind identifier the server attaches to every item.
// Both parts are opaque lookup keys; nothing here interprets their content.
type Tag struct {
	Module   string
	Qualname string
}

func (t Tag) String() string {
	return fmt.Sprintf("(%q, %q)", t.Module, t.Qualname)
}

// Entry is anything a catalog can contain
type Entry interface {
	Path() Path
	Metadata() Metadata
}

// Constructor builds a client-side Entry for an item the server reported.
// reg is the registry of the catalog doing the dispatch, so nested catalogs
// inherit their parent's overrides.
type Constructor func(c *Client, path Path, md Metadata, reg *Registry) (Entry, error)

// Built-in tags
var (
	CatalogTag     = Tag{Module: "catalog_server.in_memory_catalog", Qualname: "Catalog"}
	ArraySourceTag = Tag{Module: "catalog_server.datasources", Qualname: "ArraySource"}
)

// Registry maps dispatch tags to constructors. It is safe for concurrent
// use.
type Registry struct {
	lk    sync.RWMutex
	ctors map[Tag]Constructor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{ctors: map[Tag]Constructor{}}
}

var defaultRegistry = func() *Registry {
	r := NewRegistry()
	r.Register(CatalogTag, newCatalogEntry)
	r.Register(ArraySourceTag, newArraySourceEntry)
	return r
}()

// DefaultRegistry returns a copy of the process-wide default registry
func DefaultRegistry() *Registry {
	return defaultRegistry.Copy()
}

// Register adds a constructor to the process-wide default registry.
// Catalogs opened afterwards see it; existing catalogs keep the copy they
// took when they were created.
func Register(tag Tag, ctor Constructor) {
	defaultRegistry.Register(tag, ctor)
}

// Register adds or replaces the constructor for tag
func (r *Registry) Register(tag Tag, ctor Constructor) {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.ctors[tag] = ctor
}

// Lookup returns the constructor registered for tag
func (r *Registry) Lookup(tag Tag) (Constructor, bool) {
	r.lk.RLock()
	defer r.lk.RUnlock()
	ctor, ok := r.ctors[tag]
	return ctor, ok
}

// Copy returns an independent registry with the same entries
func (r *Registry) Copy() *Registry {
	r.lk.RLock()
	defer r.lk.RUnlock()
	cp := &Registry{ctors: make(map[Tag]Constructor, len(r.ctors))}
	for t, c := range r.ctors {
		cp.ctors[t] = c
	}
	return cp
}

// Tags lists registered tags, sorted
func (r *Registry) Tags() []Tag {
	r.lk.RLock()
	defer r.lk.RUnlock()
	tags := make([]Tag, 0, len(r.ctors))
	for t := range r.ctors {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Module != tags[j].Module {
			return tags[i].Module < tags[j].Module
		}
		return tags[i].Qualname < tags[j].Qualname
	})
	return tags
}

// construct resolves tag and builds the entry. An unknown tag is a
// *DispatchError, never a nil or default entry.
func (r *Registry) construct(c *Client, tag Tag, path Path, md Metadata) (Entry, error) {
	ctor, ok := r.Lookup(tag)
	if !ok {
		return nil, &DispatchError{Tag: tag}
	}
	return ctor(c, path, md, r)
}
