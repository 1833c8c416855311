package tiled

import (
	"fmt"
)

// Structure is the server-declared layout of an array data source
type Structure struct {
	// A list of integers defining the length of each dimension of the array.
	Shape []int `json:"shape"`
	// Element type of the array.
	Dtype Dtype `json:"dtype"`
	// Per-axis chunk lengths. Unlike zarr, chunks along one axis need not be
	// equal: Chunks[axis][i] is the length of the i-th block along axis.
	Chunks [][]int `json:"chunks"`
}

// Validate checks that the chunks tile the shape exactly: one chunk list per
// axis, no negative lengths, and each axis' chunk lengths summing to that
// axis' dimension
func (s *Structure) Validate() error {
	if len(s.Chunks) != len(s.Shape) {
		return fmt.Errorf("%w: %d chunk axes for %d-dimensional shape", ErrInvalidStructure, len(s.Chunks), len(s.Shape))
	}
	for axis, dim := range s.Shape {
		if dim < 0 {
			return fmt.Errorf("%w: negative dimension %d on axis %d", ErrInvalidStructure, dim, axis)
		}
		sum := 0
		for _, l := range s.Chunks[axis] {
			if l < 0 {
				return fmt.Errorf("%w: negative chunk length %d on axis %d", ErrInvalidStructure, l, axis)
			}
			sum += l
		}
		if sum != dim {
			return fmt.Errorf("%w: axis %d chunks sum to %d, shape is %d", ErrInvalidStructure, axis, sum, dim)
		}
	}
	if s.Dtype.ItemSize <= 0 {
		return fmt.Errorf("%w: dtype %q has no itemsize", ErrInvalidStructure, s.Dtype)
	}
	return nil
}

// NumBlocks is the total number of blocks the chunks partition the array into
func (s *Structure) NumBlocks() int {
	n := 1
	for _, ch := range s.Chunks {
		n *= len(ch)
	}
	return n
}

// Size is the total element count
func (s *Structure) Size() int {
	return product(s.Shape)
}

func product(xs []int) int {
	n := 1
	for _, x := range xs {
		n *= x
	}
	return n
}
