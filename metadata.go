package tiled

import (
	"encoding/json"
	"sort"
)

// Metadata is a read-only view of the user metadata the server attaches to
// catalogs and array sources. Editing the source map after construction is
// not observable, and there's no way to write back: changes would never
// persist anywhere.
type Metadata struct {
	m map[string]interface{}
}

var (
	_ json.Unmarshaler = (*Metadata)(nil)
	_ json.Marshaler   = (*Metadata)(nil)
)

// NewMetadata copies the top level of m into a read-only view
func NewMetadata(m map[string]interface{}) Metadata {
	cp := make(map[string]interface{}, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Metadata{m: cp}
}

// Get returns the value stored under key
func (md Metadata) Get(key string) (interface{}, bool) {
	v, ok := md.m[key]
	return v, ok
}

// Len is the number of top-level keys
func (md Metadata) Len() int { return len(md.m) }

// Keys returns top-level keys in sorted order
func (md Metadata) Keys() []string {
	keys := make([]string, 0, len(md.m))
	for k := range md.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a shallow copy of the metadata as a plain map
func (md Metadata) Map() map[string]interface{} {
	return NewMetadata(md.m).m
}

func (md Metadata) MarshalJSON() ([]byte, error) {
	if md.m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(md.m)
}

func (md *Metadata) UnmarshalJSON(d []byte) error {
	m := map[string]interface{}{}
	if err := json.Unmarshal(d, &m); err != nil {
		return err
	}
	md.m = m
	return nil
}

// keys Export writes next to block data
const (
	// StructureKey holds the array's structure descriptor as JSON
	StructureKey = ".zstructure"
	// AttributesKey holds the source's user metadata as JSON
	AttributesKey = ".zattrs"
)

// IsDescriptorKey reports whether an exported store key holds a descriptor
// rather than block data
func IsDescriptorKey(key string) bool {
	return key == StructureKey || key == AttributesKey
}
