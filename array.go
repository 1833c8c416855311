package tiled

import (
	"context"
	"fmt"
	"net/url"
)

// ArraySource is a catalog entry backed by one chunked N-dimensional array
// on the server
type ArraySource struct {
	client   *Client
	path     Path
	metadata Metadata
}

var _ Entry = (*ArraySource)(nil)

func newArraySourceEntry(c *Client, path Path, md Metadata, _ *Registry) (Entry, error) {
	return &ArraySource{
		client:   c,
		path:     path,
		metadata: md,
	}, nil
}

// Path is the source's location relative to the server root
func (a *ArraySource) Path() Path { return a.path.Join() }

// Metadata about this array
func (a *ArraySource) Metadata() Metadata { return a.metadata }

func (a *ArraySource) String() string {
	return fmt.Sprintf("<ArraySource /%s>", a.path)
}

// Describe fetches the array's structure: shape, dtype and per-axis chunk
// lengths. The result is never cached; each call asks the server again.
func (a *ArraySource) Describe(ctx context.Context) (*Structure, error) {
	res := struct {
		Data struct {
			Attributes struct {
				Structure Structure `json:"structure"`
			} `json:"attributes"`
		} `json:"data"`
	}{}
	params := url.Values{"fields": {"structure"}}
	if err := a.client.getJSON(ctx, endpointMetadata, route("metadata", a.path), params, &res); err != nil {
		return nil, err
	}
	st := &res.Data.Attributes.Structure
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("/%s: %w", a.path, err)
	}
	return st, nil
}

// Read returns a lazy array with one task per block. Only the structure is
// fetched; block data is requested when a task is evaluated.
func (a *ArraySource) Read(ctx context.Context) (*LazyArray, error) {
	st, err := a.Describe(ctx)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("remote-array-%s/%s", a.client.BaseURL(), a.path)
	arr, err := NewLazyArray(name, st, func(block, shape []int) Task {
		dt := st.Dtype
		return func(ctx context.Context) (*Chunk, error) {
			return a.FetchBlock(ctx, block, dt, shape)
		}
	})
	if err != nil {
		return nil, err
	}
	arr.attrs = a.metadata
	return arr, nil
}

// FetchBlock requests the data of one block and decodes it as shape elements
// of type dt. The payload length must match exactly; anything else is a
// *DecodeError.
func (a *ArraySource) FetchBlock(ctx context.Context, block []int, dt Dtype, shape []int) (*Chunk, error) {
	params := url.Values{"block": {blockParam(block)}}
	raw, err := a.client.getBytes(ctx, endpointBlob, route("blob/array", a.path), params)
	if err != nil {
		return nil, err
	}
	blockBytes.Add(float64(len(raw)))

	data, err := decodeBlock(block, dt, product(shape), raw)
	if err != nil {
		return nil, err
	}
	return &Chunk{
		Block: append([]int(nil), block...),
		Shape: append([]int(nil), shape...),
		Dtype: dt,
		Data:  data,
		Raw:   raw,
	}, nil
}
