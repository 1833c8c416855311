package tiled

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// End is a slice stop meaning "through the last entry"
const End = math.MaxInt

// blockKeySeparator is placed between the dimensions of a block key,
// giving keys of the form "0.0"
const blockKeySeparator = "."

// NormalizeSlice resolves a [start, stop) range against a sequence of the
// given length. Negative values count back from the end, values past either
// end are clamped, and a stop at or before start gives an empty range
// (start == stop). Only forward, unit-step, contiguous ranges exist: there
// is no step.
func NormalizeSlice(start, stop, length int) (int, int) {
	start = clampIndex(start, length)
	stop = clampIndex(stop, length)
	if stop < start {
		stop = start
	}
	return start, stop
}

func clampIndex(i, length int) int {
	if i < 0 {
		i += length
		if i < 0 {
			return 0
		}
	}
	if i > length {
		return length
	}
	return i
}

// NormalizeIndex resolves a single position, counting negative indices from
// the end
func NormalizeIndex(i, length int) (int, error) {
	j := i
	if j < 0 {
		j += length
	}
	if j < 0 || j >= length {
		return 0, &IndexError{Index: i, Length: length}
	}
	return j, nil
}

// Blocks enumerates every block coordinate of a chunk grid, in row-major
// order (the last axis varies fastest). A grid with zero axes has exactly one
// block, the empty coordinate; an axis with no chunks gives no blocks.
func Blocks(chunks [][]int) [][]int {
	n := 1
	for _, ch := range chunks {
		n *= len(ch)
	}
	blocks := make([][]int, 0, n)
	if n == 0 {
		return blocks
	}

	cur := make([]int, len(chunks))
	for {
		blocks = append(blocks, append(make([]int, 0, len(cur)), cur...))
		axis := len(chunks) - 1
		for ; axis >= 0; axis-- {
			cur[axis]++
			if cur[axis] < len(chunks[axis]) {
				break
			}
			cur[axis] = 0
		}
		if axis < 0 {
			return blocks
		}
	}
}

// BlockShape is the element shape of one block: per axis, the length of the
// indexed chunk
func BlockShape(chunks [][]int, block []int) ([]int, error) {
	if len(block) != len(chunks) {
		return nil, fmt.Errorf("block %v has %d axes, array has %d", block, len(block), len(chunks))
	}
	shape := make([]int, len(block))
	for axis, i := range block {
		if i < 0 || i >= len(chunks[axis]) {
			return nil, fmt.Errorf("block %v: index %d out of range on axis %d", block, i, axis)
		}
		shape[axis] = chunks[axis][i]
	}
	return shape, nil
}

// BlockKey formats a block coordinate as a chunk key, e.g. "1.0.3"
func BlockKey(block []int) string {
	strs := make([]string, len(block))
	for i, b := range block {
		strs[i] = strconv.Itoa(b)
	}
	return strings.Join(strs, blockKeySeparator)
}

// ParseBlockKey is the inverse of BlockKey
func ParseBlockKey(key string) ([]int, error) {
	if key == "" {
		return []int{}, nil
	}
	parts := strings.Split(key, blockKeySeparator)
	block := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid block key %q", key)
		}
		block[i] = n
	}
	return block, nil
}

// blockParam is the wire form of a block coordinate: "i,j,k"
func blockParam(block []int) string {
	strs := make([]string, len(block))
	for i, b := range block {
		strs[i] = strconv.Itoa(b)
	}
	return strings.Join(strs, ",")
}
