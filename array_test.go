package tiled

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openArray(t *testing.T, node *fakeNode) (*fakeServer, *ArraySource) {
	t.Helper()
	s, cat := openFake(t, catalogNode("", nil, catalogNode("group", nil, node)))
	e, err := cat.Resolve(context.Background(), Path{"group", node.key})
	require.NoError(t, err)
	src, ok := e.(*ArraySource)
	require.True(t, ok)
	s.Reset()
	return s, src
}

func TestDescribe(t *testing.T) {
	s, src := openArray(t, gridArray("grid", []int{2, 2}, []int{3, 3}))
	ctx := context.Background()

	st, err := src.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 6}, st.Shape)
	assert.Equal(t, [][]int{{2, 2}, {3, 3}}, st.Chunks)
	assert.Equal(t, "<f8", st.Dtype.String())

	// never cached
	_, err = src.Describe(ctx)
	require.NoError(t, err)
	reqs := s.Requests("/metadata/")
	require.Len(t, reqs, 2)
	assert.Equal(t, "/metadata/group/grid", reqs[0].Path)
	assert.Equal(t, "structure", reqs[0].Query.Get("fields"))
}

func TestDescribeInvalidStructure(t *testing.T) {
	node := gridArray("bad", []int{2, 2}, []int{3, 3})
	node.structure.Shape = []int{5, 6}
	_, src := openArray(t, node)

	_, err := src.Describe(context.Background())
	assert.ErrorIs(t, err, ErrInvalidStructure)
}

func TestReadBuildsGraphWithoutFetching(t *testing.T) {
	s, src := openArray(t, gridArray("grid", []int{2, 2}, []int{3, 3}))

	arr, err := src.Read(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, arr.NumBlocks())
	assert.Len(t, arr.Graph(), 4)
	assert.Equal(t, [][]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, arr.Blocks())
	assert.Equal(t, []int{4, 6}, arr.Shape())
	for axis, ch := range arr.Chunks() {
		assert.Equal(t, arr.Shape()[axis], sum(ch))
	}
	assert.Contains(t, arr.Name(), "group/grid")
	v, _ := arr.Metadata().Get("kind")
	assert.Equal(t, "array", v)

	assert.Empty(t, s.Requests("/blob/"))
}

func TestTaskFetchesOneBlock(t *testing.T) {
	s, src := openArray(t, gridArray("grid", []int{2, 2}, []int{3, 3}))
	ctx := context.Background()

	arr, err := src.Read(ctx)
	require.NoError(t, err)

	task, ok := arr.Task([]int{1, 0})
	require.True(t, ok)
	ch, err := task(ctx)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 0}, ch.Block)
	assert.Equal(t, []int{2, 3}, ch.Shape)
	// rows 2-3, cols 0-2 of a 4x6 grid numbered row*6+col
	assert.Equal(t, []float64{12, 13, 14, 18, 19, 20}, ch.Data)

	reqs := s.Requests("/blob/")
	require.Len(t, reqs, 1)
	assert.Equal(t, "/blob/array/group/grid", reqs[0].Path)
	assert.Equal(t, "1,0", reqs[0].Query.Get("block"))
	assert.Equal(t, "application/octet-stream", reqs[0].Hdr.Get("Accept"))

	_, ok = arr.Task([]int{2, 0})
	assert.False(t, ok)
}

func TestCompute(t *testing.T) {
	s, src := openArray(t, gridArray("grid", []int{1, 2, 1}, []int{4, 2}))
	ctx := context.Background()

	arr, err := src.Read(ctx)
	require.NoError(t, err)
	chunks, err := arr.Compute(ctx, 3)
	require.NoError(t, err)
	require.Len(t, chunks, 6)

	for i, b := range arr.Blocks() {
		assert.Equal(t, b, chunks[i].Block)
	}
	assert.Equal(t, []float64{0, 1, 2, 3}, chunks[0].Data)
	assert.Equal(t, []float64{22, 23}, chunks[5].Data)
	assert.Len(t, s.Requests("/blob/"), 6)
}

func TestTasksAreIndependent(t *testing.T) {
	_, src := openArray(t, gridArray("grid", []int{2, 2}, []int{3, 3}))
	ctx := context.Background()

	arr, err := src.Read(ctx)
	require.NoError(t, err)

	// evaluate in reverse, concurrently, each key twice
	graph := arr.Graph()
	results := map[string]interface{}{}
	var (
		lk sync.Mutex
		wg sync.WaitGroup
	)
	for _, key := range []string{"1.1", "1.0", "0.1", "0.0", "1.1", "0.0"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			ch, err := graph[key](ctx)
			if !assert.NoError(t, err) {
				return
			}
			lk.Lock()
			defer lk.Unlock()
			if prev, ok := results[key]; ok {
				assert.Equal(t, prev, ch.Data)
			}
			results[key] = ch.Data
		}(key)
	}
	wg.Wait()
	assert.Len(t, results, 4)
	assert.Equal(t, []float64{15, 16, 17, 21, 22, 23}, results["1.1"])
}

func TestBlockLengthMismatch(t *testing.T) {
	node := gridArray("grid", []int{2, 2}, []int{3, 3})
	node.blocks["0.1"] = node.blocks["0.1"][:40]
	_, src := openArray(t, node)
	ctx := context.Background()

	arr, err := src.Read(ctx)
	require.NoError(t, err)

	task, _ := arr.Task([]int{0, 1})
	_, err = task(ctx)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 48, de.Want)
	assert.Equal(t, 40, de.Got)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = arr.Compute(ctx, 2)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestBlockStatusError(t *testing.T) {
	node := gridArray("grid", []int{2}, []int{3})
	delete(node.blocks, "0.0")
	_, src := openArray(t, node)

	arr, err := src.Read(context.Background())
	require.NoError(t, err)
	_, err = arr.Compute(context.Background(), 1)
	assert.ErrorIs(t, err, ErrStatus)
}

func TestGzipBlocks(t *testing.T) {
	node := gridArray("grid", []int{2, 2}, []int{3, 3})
	node.gzip = true
	s, src := openArray(t, node)
	ctx := context.Background()

	arr, err := src.Read(ctx)
	require.NoError(t, err)
	chunks, err := arr.Compute(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 5, 9, 10, 11}, chunks[1].Data)

	reqs := s.Requests("/blob/")
	require.NotEmpty(t, reqs)
	assert.Contains(t, reqs[0].Hdr.Get("Accept-Encoding"), "gzip")
}

func TestExport(t *testing.T) {
	_, src := openArray(t, gridArray("grid", []int{2, 2}, []int{3, 3}))
	ctx := context.Background()

	arr, err := src.Read(ctx)
	require.NoError(t, err)

	store := NewMemoryStore()
	require.NoError(t, arr.Export(ctx, store, 2))

	var blocks []string
	for _, k := range store.Keys() {
		if !IsDescriptorKey(k) {
			blocks = append(blocks, k)
		}
	}
	assert.Equal(t, []string{"0.0", "0.1", "1.0", "1.1"}, blocks)

	r, err := store.Get(StructureKey)
	require.NoError(t, err)
	desc, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(desc), `"dtype":"<f8"`)
	st := &Structure{}
	require.NoError(t, json.Unmarshal(desc, st))
	require.NoError(t, st.Validate())
	assert.Equal(t, []int{4, 6}, st.Shape)

	r, err = store.Get("1.1")
	require.NoError(t, err)
	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Len(t, raw, 6*8)

	_, err = store.Get(AttributesKey)
	assert.NoError(t, err)
}

func TestNewLazyArray(t *testing.T) {
	st := &Structure{
		Shape:  []int{4, 6},
		Dtype:  MustParseDtype("<i4"),
		Chunks: [][]int{{2, 2}, {3, 3}},
	}
	var shapes [][]int
	arr, err := NewLazyArray("local", st, func(block, shape []int) Task {
		shapes = append(shapes, shape)
		return func(ctx context.Context) (*Chunk, error) {
			return &Chunk{Block: block, Shape: shape}, nil
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 4, arr.NumBlocks())
	assert.Equal(t, [][]int{{2, 3}, {2, 3}, {2, 3}, {2, 3}}, shapes)

	_, err = NewLazyArray("bad", &Structure{Shape: []int{3}, Dtype: st.Dtype, Chunks: [][]int{{1, 1}}}, nil)
	assert.ErrorIs(t, err, ErrInvalidStructure)
}

func TestScalarArray(t *testing.T) {
	st := &Structure{Shape: []int{}, Dtype: MustParseDtype("<f8"), Chunks: [][]int{}}
	arr, err := NewLazyArray("scalar", st, func(block, shape []int) Task {
		return func(ctx context.Context) (*Chunk, error) {
			return &Chunk{Block: block, Shape: shape}, nil
		}
	})
	require.NoError(t, err)
	require.Equal(t, 1, arr.NumBlocks())
	_, ok := arr.Task([]int{})
	assert.True(t, ok)
}

func TestOpenExport(t *testing.T) {
	_, src := openArray(t, gridArray("grid", []int{2, 2}, []int{3, 3}))
	ctx := context.Background()

	arr, err := src.Read(ctx)
	require.NoError(t, err)
	remote, err := arr.Compute(ctx, 2)
	require.NoError(t, err)

	store := NewMemoryStore()
	require.NoError(t, arr.Export(ctx, store, 2))

	local, err := OpenExport(store)
	require.NoError(t, err)
	assert.Equal(t, "exported-array-MemoryStore", local.Name())
	assert.Equal(t, arr.Shape(), local.Shape())
	assert.Equal(t, arr.Chunks(), local.Chunks())
	assert.Equal(t, "<f8", local.Dtype().String())
	v, _ := local.Metadata().Get("kind")
	assert.Equal(t, "array", v)

	chunks, err := local.Compute(ctx, 2)
	require.NoError(t, err)
	require.Len(t, chunks, len(remote))
	for i := range chunks {
		assert.Equal(t, remote[i].Block, chunks[i].Block)
		assert.Equal(t, remote[i].Data, chunks[i].Data)
	}
}

func TestOpenExportMissingBlock(t *testing.T) {
	store := NewMemoryStore()
	_, err := OpenExport(store)
	assert.ErrorIs(t, err, ErrNotFound)

	st := `{"shape":[2],"dtype":"<i2","chunks":[[1,1]]}`
	require.NoError(t, store.Put(StructureKey, strings.NewReader(st)))
	require.NoError(t, store.Put("0", bytes.NewReader([]byte{1, 0})))

	arr, err := OpenExport(store)
	require.NoError(t, err)
	assert.Equal(t, 0, arr.Metadata().Len())

	task, ok := arr.Task([]int{0})
	require.True(t, ok)
	ch, err := task(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int16{1}, ch.Data)

	_, err = arr.Compute(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}
