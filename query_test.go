package tiled

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rangeQuery struct {
	Key   string `query:"key"`
	Low   float64
	High  float64 `query:"high,omitempty"`
	note  string
	Label string `query:"-"`
}

func init() {
	RegisterQuery("range", rangeQuery{})
}

func TestEncodeQueries(t *testing.T) {
	params, err := EncodeQueries(KeyLookup{Key: "a"}, &Eq{Key: "color", Value: "red"})
	require.NoError(t, err)
	assert.Equal(t, url.Values{
		"filter[lookup][condition][key]": {"a"},
		"filter[eq][condition][key]":     {"color"},
		"filter[eq][condition][value]":   {"red"},
	}, params)
}

func TestEncodeQueriesOrderIndependent(t *testing.T) {
	a, err := EncodeQueries(FullText{Text: "dark"}, Eq{Key: "x", Value: 3})
	require.NoError(t, err)
	b, err := EncodeQueries(Eq{Key: "x", Value: 3}, FullText{Text: "dark"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeSliceField(t *testing.T) {
	params, err := EncodeQueries(In{Key: "sample", Value: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, params[FilterParam("in", "value")])
}

func TestEncodeCustomQuery(t *testing.T) {
	params, err := EncodeQueries(rangeQuery{Key: "temp", Low: 1.5, High: 3, note: "x", Label: "y"})
	require.NoError(t, err)
	assert.Equal(t, url.Values{
		"filter[range][condition][key]":  {"temp"},
		"filter[range][condition][low]":  {"1.5"},
		"filter[range][condition][high]": {"3"},
	}, params)

	name, err := QueryName(&rangeQuery{})
	require.NoError(t, err)
	assert.Equal(t, "range", name)
}

func TestEncodeUnknownQuery(t *testing.T) {
	type adHoc struct{ Key string }
	_, err := EncodeQueries(KeyLookup{Key: "a"}, adHoc{Key: "b"})
	assert.ErrorIs(t, err, ErrUnknownQuery)

	_, err = EncodeQueries(nil)
	assert.ErrorIs(t, err, ErrUnknownQuery)

	_, err = EncodeQueries((*KeyLookup)(nil))
	assert.Error(t, err)
}

func TestRegisterQueryConflicts(t *testing.T) {
	// same pairing twice is fine
	assert.NotPanics(t, func() { RegisterQuery("range", rangeQuery{}) })

	type other struct{ Key string }
	assert.Panics(t, func() { RegisterQuery("range", other{}) })
	assert.Panics(t, func() { RegisterQuery("range2", rangeQuery{}) })
	assert.Panics(t, func() { RegisterQuery("scalar", 5) })
}

func TestMergeParams(t *testing.T) {
	dst := url.Values{"fields": {"metadata"}, "a": {"1"}}
	src := url.Values{"a": {"2", "3"}}
	out := mergeParams(dst, src)
	assert.Equal(t, url.Values{"fields": {"metadata"}, "a": {"2", "3"}}, out)

	// no aliasing of src slices
	out["a"][0] = "9"
	assert.Equal(t, "2", src["a"][0])
}
