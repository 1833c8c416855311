package tiled

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestMetrics(t *testing.T) {
	_, src := openArray(t, gridArray("grid", []int{2, 2}, []int{3, 3}))
	ctx := context.Background()

	metas := testutil.ToFloat64(requestsTotal.WithLabelValues(endpointMetadata, "200"))
	blobs := testutil.ToFloat64(requestsTotal.WithLabelValues(endpointBlob, "200"))
	bytes := testutil.ToFloat64(blockBytes)

	arr, err := src.Read(ctx)
	require.NoError(t, err)
	_, err = arr.Compute(ctx, 2)
	require.NoError(t, err)

	assert.Equal(t, metas+1, testutil.ToFloat64(requestsTotal.WithLabelValues(endpointMetadata, "200")))
	assert.Equal(t, blobs+4, testutil.ToFloat64(requestsTotal.WithLabelValues(endpointBlob, "200")))
	assert.Equal(t, bytes+4*6*8, testutil.ToFloat64(blockBytes))
}

func TestStatusMetrics(t *testing.T) {
	node := gridArray("grid", []int{2}, []int{3})
	delete(node.blocks, "0.0")
	_, src := openArray(t, node)
	ctx := context.Background()

	before := testutil.ToFloat64(requestsTotal.WithLabelValues(endpointBlob, "400"))
	arr, err := src.Read(ctx)
	require.NoError(t, err)
	_, err = arr.Compute(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(requestsTotal.WithLabelValues(endpointBlob, "400")))
}
