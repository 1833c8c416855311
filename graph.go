package tiled

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Task produces the data of one block. Tasks of one array share no mutable
// state and don't depend on each other, so any subset may run in any order
// or concurrently.
type Task func(ctx context.Context) (*Chunk, error)

// Chunk is the evaluated data of one block
type Chunk struct {
	// Block coordinate, one chunk index per axis
	Block []int
	// Element shape of this block
	Shape []int
	Dtype Dtype
	// Row-major elements as a typed slice, e.g. []float64 for "<f8"
	Data interface{}
	// Undecoded row-major bytes
	Raw []byte
}

// LazyArray is a deferred N-dimensional array: shape, dtype and chunk
// boundaries plus a graph mapping each block to the task that produces it.
// Building one evaluates nothing. Evaluate tasks individually through Task
// or Graph with any scheduler, or all at once with Compute.
type LazyArray struct {
	name   string
	shape  []int
	dtype  Dtype
	chunks [][]int
	blocks [][]int
	graph  map[string]Task
	attrs  Metadata
}

// NewLazyArray builds the task graph for a structure, calling task once per
// block with the block coordinate and its element shape
func NewLazyArray(name string, st *Structure, task func(block, shape []int) Task) (*LazyArray, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	a := &LazyArray{
		name:   name,
		shape:  append([]int(nil), st.Shape...),
		dtype:  st.Dtype,
		chunks: copyChunks(st.Chunks),
		graph:  map[string]Task{},
	}
	a.blocks = Blocks(a.chunks)
	for _, b := range a.blocks {
		shape, err := BlockShape(a.chunks, b)
		if err != nil {
			return nil, err
		}
		a.graph[BlockKey(b)] = task(append([]int(nil), b...), shape)
	}
	return a, nil
}

func copyChunks(chunks [][]int) [][]int {
	cp := make([][]int, len(chunks))
	for i, ch := range chunks {
		cp[i] = append([]int(nil), ch...)
	}
	return cp
}

// Name identifies the array's graph
func (a *LazyArray) Name() string { return a.name }

func (a *LazyArray) Shape() []int { return append([]int(nil), a.shape...) }

func (a *LazyArray) Dtype() Dtype { return a.dtype }

// Chunks returns per-axis chunk lengths
func (a *LazyArray) Chunks() [][]int { return copyChunks(a.chunks) }

// Metadata of the source the array was read from
func (a *LazyArray) Metadata() Metadata { return a.attrs }

func (a *LazyArray) NumBlocks() int { return len(a.blocks) }

// Blocks lists block coordinates in row-major order
func (a *LazyArray) Blocks() [][]int { return copyChunks(a.blocks) }

// Task returns the task for one block coordinate
func (a *LazyArray) Task(block []int) (Task, bool) {
	t, ok := a.graph[BlockKey(block)]
	return t, ok
}

// Graph returns a copy of the block key → task mapping, keys formatted by
// BlockKey
func (a *LazyArray) Graph() map[string]Task {
	g := make(map[string]Task, len(a.graph))
	for k, t := range a.graph {
		g[k] = t
	}
	return g
}

// Compute evaluates every block with at most workers tasks in flight
// (GOMAXPROCS when workers <= 0) and returns chunks in Blocks order. The
// first failure cancels the remaining tasks.
func (a *LazyArray) Compute(ctx context.Context, workers int) ([]*Chunk, error) {
	out := make([]*Chunk, len(a.blocks))
	err := a.each(ctx, workers, func(i int, ch *Chunk) error {
		out[i] = ch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Export evaluates every block and writes its raw bytes into store under
// its block key, with the structure descriptor under StructureKey and any
// source metadata under AttributesKey
func (a *LazyArray) Export(ctx context.Context, store Store, workers int) error {
	if err := putJSON(store, StructureKey, Structure{Shape: a.shape, Dtype: a.dtype, Chunks: a.chunks}); err != nil {
		return err
	}
	if a.attrs.Len() > 0 {
		if err := putJSON(store, AttributesKey, a.attrs); err != nil {
			return err
		}
	}

	return a.each(ctx, workers, func(_ int, ch *Chunk) error {
		key := BlockKey(ch.Block)
		if err := store.Put(key, bytes.NewReader(ch.Raw)); err != nil {
			return fmt.Errorf("writing block %s: %w", key, err)
		}
		return nil
	})
}

// OpenExport rebuilds a lazy array from a store written by Export. Tasks
// read and decode one stored block each; nothing is read until a task runs.
func OpenExport(store Store) (*LazyArray, error) {
	st := &Structure{}
	if err := readJSON(store, StructureKey, st); err != nil {
		return nil, err
	}
	md := Metadata{}
	if err := readJSON(store, AttributesKey, &md); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	dt := st.Dtype
	arr, err := NewLazyArray(fmt.Sprintf("exported-array-%s", store.Type()), st, func(block, shape []int) Task {
		return func(ctx context.Context) (*Chunk, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			r, err := store.Get(BlockKey(block))
			if err != nil {
				return nil, err
			}
			defer r.Close()
			raw, err := io.ReadAll(r)
			if err != nil {
				return nil, fmt.Errorf("reading block %s: %w", BlockKey(block), err)
			}
			data, err := decodeBlock(block, dt, product(shape), raw)
			if err != nil {
				return nil, err
			}
			return &Chunk{Block: block, Shape: shape, Dtype: dt, Data: data, Raw: raw}, nil
		}
	})
	if err != nil {
		return nil, err
	}
	arr.attrs = md
	return arr, nil
}

func readJSON(store Store, key string, v interface{}) error {
	r, err := store.Get(key)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	return nil
}

// putJSON writes a descriptor with typestrs like "<f8" left unescaped
func putJSON(store Store, key string, v interface{}) error {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	if err := store.Put(key, buf); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (a *LazyArray) each(ctx context.Context, workers int, fn func(i int, ch *Chunk) error) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, b := range a.blocks {
		task := a.graph[BlockKey(b)]
		g.Go(func() error {
			ch, err := task(gctx)
			if err != nil {
				return err
			}
			return fn(i, ch)
		})
	}
	return g.Wait()
}
