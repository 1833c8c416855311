package tiled

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// fakeNode is one entry served by fakeServer: a catalog when structure is
// nil, an array otherwise
type fakeNode struct {
	key       string
	tag       Tag
	metadata  map[string]interface{}
	children  []*fakeNode
	structure *Structure
	blocks    map[string][]byte
	gzip      bool
}

func catalogNode(key string, md map[string]interface{}, children ...*fakeNode) *fakeNode {
	return &fakeNode{key: key, tag: CatalogTag, metadata: md, children: children}
}

func arrayNode(key string, st *Structure, blocks map[string][]byte) *fakeNode {
	return &fakeNode{key: key, tag: ArraySourceTag, metadata: map[string]interface{}{"kind": "array"}, structure: st, blocks: blocks}
}

// numberedCatalog holds n sub-catalogs keyed k000, k001, ...
func numberedCatalog(key string, n int) *fakeNode {
	node := catalogNode(key, map[string]interface{}{"size": n})
	for i := 0; i < n; i++ {
		node.children = append(node.children, catalogNode(fmt.Sprintf("k%03d", i), map[string]interface{}{
			"i":      i,
			"parity": []string{"even", "odd"}[i%2],
		}))
	}
	return node
}

type recordedRequest struct {
	Path  string
	Query url.Values
	Hdr   http.Header
}

// fakeServer is an in-process catalog server speaking the search, metadata
// and blob routes
type fakeServer struct {
	*httptest.Server
	root     *fakeNode
	pageSize int
	// send next links as a bare query string
	queryOnlyNext bool

	lk       sync.Mutex
	requests []recordedRequest
}

func newFakeServer(t *testing.T, root *fakeNode) *fakeServer {
	t.Helper()
	s := &fakeServer{root: root, pageSize: 10}

	r := chi.NewRouter()
	r.Use(s.record)
	r.Get("/metadata/*", s.handleMetadata)
	r.Get("/search/*", s.handleSearch)
	r.Get("/blob/array/*", s.handleBlob)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

func (s *fakeServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lk.Lock()
		s.requests = append(s.requests, recordedRequest{Path: r.URL.Path, Query: r.URL.Query(), Hdr: r.Header.Clone()})
		s.lk.Unlock()
		next.ServeHTTP(w, r)
	})
}

// Requests returns recorded requests whose path starts with prefix
func (s *fakeServer) Requests(prefix string) []recordedRequest {
	s.lk.Lock()
	defer s.lk.Unlock()
	var out []recordedRequest
	for _, r := range s.requests {
		if strings.HasPrefix(r.Path, prefix) {
			out = append(out, r)
		}
	}
	return out
}

func (s *fakeServer) Reset() {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.requests = nil
}

func (s *fakeServer) find(path string) *fakeNode {
	node := s.root
	for _, seg := range NewPath(path) {
		var next *fakeNode
		for _, ch := range node.children {
			if ch.key == seg {
				next = ch
				break
			}
		}
		if next == nil {
			return nil
		}
		node = next
	}
	return node
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *fakeServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	node := s.find(chi.URLParam(r, "*"))
	if node == nil {
		http.Error(w, "no such entry", http.StatusNotFound)
		return
	}
	attrs := map[string]interface{}{"metadata": node.metadata}
	if r.URL.Query().Get("fields") == "structure" {
		attrs = map[string]interface{}{"structure": node.structure}
	}
	writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"attributes": attrs}})
}

func (s *fakeServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	node := s.find(path)
	if node == nil || node.structure != nil {
		http.Error(w, "no such catalog", http.StatusNotFound)
		return
	}
	q := r.URL.Query()

	var matches []*fakeNode
	for _, ch := range node.children {
		if matchesFilters(ch, q) {
			matches = append(matches, ch)
		}
	}

	offset, limit := 0, s.pageSize
	if v := q.Get("page[offset]"); v != "" {
		offset, _ = strconv.Atoi(v)
	}
	if v := q.Get("page[limit]"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	if limit > s.pageSize {
		limit = s.pageSize
	}
	end := offset + limit
	if end > len(matches) {
		end = len(matches)
	}
	if offset > end {
		offset = end
	}

	data := []interface{}{}
	for _, ch := range matches[offset:end] {
		attrs := map[string]interface{}{}
		if q.Get("fields") == "metadata" {
			attrs["metadata"] = ch.metadata
		}
		data = append(data, map[string]interface{}{
			"id":         ch.key,
			"meta":       map[string]string{"__module__": ch.tag.Module, "__qualname__": ch.tag.Qualname},
			"attributes": attrs,
		})
	}

	var next interface{}
	if end < len(matches) {
		nq := url.Values{}
		nq.Set("page[offset]", strconv.Itoa(end))
		nq.Set("page[limit]", strconv.Itoa(limit))
		if s.queryOnlyNext {
			next = "?" + nq.Encode()
		} else {
			next = fmt.Sprintf("http://%s%s?%s", r.Host, r.URL.Path, nq.Encode())
		}
	}

	writeJSON(w, map[string]interface{}{
		"data":  data,
		"links": map[string]interface{}{"next": next},
		"meta":  map[string]interface{}{"count": len(matches)},
	})
}

func matchesFilters(n *fakeNode, q url.Values) bool {
	for _, key := range q["filter[lookup][condition][key]"] {
		if n.key != key {
			return false
		}
	}
	for _, text := range q["filter[fulltext][condition][text]"] {
		found := false
		for _, v := range n.metadata {
			if strings.Contains(fmt.Sprint(v), text) {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if keys := q["filter[eq][condition][key]"]; len(keys) > 0 {
		vals := q["filter[eq][condition][value]"]
		for i, key := range keys {
			if i >= len(vals) || fmt.Sprint(n.metadata[key]) != vals[i] {
				return false
			}
		}
	}
	return true
}

func (s *fakeServer) handleBlob(w http.ResponseWriter, r *http.Request) {
	node := s.find(chi.URLParam(r, "*"))
	if node == nil || node.structure == nil {
		http.Error(w, "no such array", http.StatusNotFound)
		return
	}
	key := strings.ReplaceAll(r.URL.Query().Get("block"), ",", ".")
	data, ok := node.blocks[key]
	if !ok {
		http.Error(w, "no such block", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if node.gzip {
		buf := &bytes.Buffer{}
		zw := gzip.NewWriter(buf)
		zw.Write(data)
		zw.Close()
		w.Header().Set("Content-Encoding", "gzip")
		data = buf.Bytes()
	}
	w.Write(data)
}

// gridArray builds a float64 array whose element at (row, col) is
// row*cols+col, split into the given per-axis chunks
func gridArray(key string, rowChunks, colChunks []int) *fakeNode {
	st := &Structure{
		Shape:  []int{sum(rowChunks), sum(colChunks)},
		Dtype:  MustParseDtype("<f8"),
		Chunks: [][]int{rowChunks, colChunks},
	}
	cols := st.Shape[1]
	blocks := map[string][]byte{}
	row0 := 0
	for bi, nr := range rowChunks {
		col0 := 0
		for bj, nc := range colChunks {
			buf := make([]byte, 0, nr*nc*8)
			for r := row0; r < row0+nr; r++ {
				for c := col0; c < col0+nc; c++ {
					buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(float64(r*cols+c)))
				}
			}
			blocks[BlockKey([]int{bi, bj})] = buf
			col0 += nc
		}
		row0 += nr
	}
	return arrayNode(key, st, blocks)
}

func sum(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}
