package tiled

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"sync"
)

// ErrUnknownQuery is returned when encoding a query type that was never
// registered
var ErrUnknownQuery = errors.New("unregistered query type")

// Query is a filter condition applied by the server when searching a
// catalog. Any struct type can be a Query once registered with
// RegisterQuery; its exported fields are the condition's fields.
//
// A field's wire name is taken from its `query:"name"` tag, falling back to
// the lower-cased field name. Fields tagged `query:"-"` are skipped.
type Query interface{}

// KeyLookup matches the single entry with the given key
type KeyLookup struct {
	Key string `query:"key"`
}

// FullText matches entries whose metadata contains text
type FullText struct {
	Text string `query:"text"`
}

// Eq matches entries whose metadata value at Key equals Value
type Eq struct {
	Key   string      `query:"key"`
	Value interface{} `query:"value"`
}

// Contains matches entries whose metadata value at Key contains Value
type Contains struct {
	Key   string      `query:"key"`
	Value interface{} `query:"value"`
}

// In matches entries whose metadata value at Key is one of Value
type In struct {
	Key   string   `query:"key"`
	Value []string `query:"value"`
}

var queryTypes = struct {
	sync.RWMutex
	names map[reflect.Type]string
	types map[string]reflect.Type
}{
	names: map[reflect.Type]string{},
	types: map[string]reflect.Type{},
}

func init() {
	RegisterQuery("lookup", KeyLookup{})
	RegisterQuery("fulltext", FullText{})
	RegisterQuery("eq", Eq{})
	RegisterQuery("contains", Contains{})
	RegisterQuery("in", In{})
}

// RegisterQuery makes a query type encodable under name. q is an example
// value of the type, either a struct or a pointer to one. Registering the
// same type twice under the same name is a no-op; reusing a name or type
// with a different partner panics.
func RegisterQuery(name string, q Query) {
	t := queryType(q)
	if t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("tiled: query %q must be a struct, got %s", name, t))
	}

	queryTypes.Lock()
	defer queryTypes.Unlock()
	if prev, ok := queryTypes.types[name]; ok && prev != t {
		panic(fmt.Sprintf("tiled: query name %q already registered for %s", name, prev))
	}
	if prev, ok := queryTypes.names[t]; ok && prev != name {
		panic(fmt.Sprintf("tiled: query type %s already registered as %q", t, prev))
	}
	queryTypes.names[t] = name
	queryTypes.types[name] = t
}

// QueryName returns the registered wire name of q's type
func QueryName(q Query) (string, error) {
	if q == nil {
		return "", fmt.Errorf("%w: nil", ErrUnknownQuery)
	}
	t := queryType(q)
	queryTypes.RLock()
	defer queryTypes.RUnlock()
	name, ok := queryTypes.names[t]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownQuery, t)
	}
	return name, nil
}

func queryType(q Query) reflect.Type {
	t := reflect.TypeOf(q)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// FilterParam is the search parameter name for one field of a registered
// query
func FilterParam(name, field string) string {
	return "filter[" + name + "][condition][" + field + "]"
}

// EncodeQueries flattens queries into search parameters, one per field:
//
//	filter[<name>][condition][<field>]=<value>
//
// Slice fields contribute one value per element. Queries of distinct types
// occupy disjoint parameter names, so the result doesn't depend on their
// order.
func EncodeQueries(qs ...Query) (url.Values, error) {
	params := url.Values{}
	for _, q := range qs {
		name, err := QueryName(q)
		if err != nil {
			return nil, err
		}
		v := reflect.ValueOf(q)
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return nil, fmt.Errorf("nil %s query", name)
			}
			v = v.Elem()
		}
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			field := fieldName(f)
			if field == "" {
				continue
			}
			key := FilterParam(name, field)
			for _, s := range fieldValues(v.Field(i)) {
				params.Add(key, s)
			}
		}
	}
	return params, nil
}

func fieldName(f reflect.StructField) string {
	tag, ok := f.Tag.Lookup("query")
	if !ok {
		return strings.ToLower(f.Name)
	}
	if tag == "-" {
		return ""
	}
	if i := strings.IndexByte(tag, ','); i >= 0 {
		tag = tag[:i]
	}
	if tag == "" {
		return strings.ToLower(f.Name)
	}
	return tag
}

func fieldValues(v reflect.Value) []string {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return []string{""}
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() != reflect.Uint8 {
		out := make([]string, v.Len())
		for i := range out {
			out[i] = fmt.Sprint(v.Index(i).Interface())
		}
		return out
	}
	return []string{fmt.Sprint(v.Interface())}
}

// mergeParams overlays src onto dst, replacing values for shared keys
func mergeParams(dst url.Values, srcs ...url.Values) url.Values {
	for _, src := range srcs {
		for k, vs := range src {
			dst[k] = append([]string(nil), vs...)
		}
	}
	return dst
}
