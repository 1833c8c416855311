package tiled

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key lookup matches nothing, and by stores
	// for missing keys
	ErrNotFound = errors.New("not found")
	// ErrStatus marks a non-success HTTP response
	ErrStatus = errors.New("unexpected status")
	// ErrDispatch means the server reported an item kind this client has no
	// constructor for. It signals a client/server version mismatch and should
	// not be recovered from.
	ErrDispatch = errors.New("no constructor registered for dispatch tag")
	// ErrInvariant means the server broke a contract it promised to keep, e.g.
	// returning more than one item for a key lookup
	ErrInvariant = errors.New("server invariant violated")
	// ErrIndexRange is returned for positional access outside [0, len)
	ErrIndexRange = errors.New("index out of range")
	// ErrDecode is returned when a block payload doesn't match its declared
	// dtype and shape
	ErrDecode = errors.New("block decode")
	// ErrInvalidStructure is returned for structure descriptors whose chunks
	// don't tile their shape
	ErrInvalidStructure = errors.New("invalid structure")
)

// StatusError is a transport failure: the server answered with a non-2xx
// status
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// DispatchError carries the unrecognized tag
type DispatchError struct {
	Tag Tag
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDispatch, e.Tag)
}

func (e *DispatchError) Unwrap() error { return ErrDispatch }

// IndexError reports a positional index outside a catalog's length
type IndexError struct {
	Index  int
	Length int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %d out of range for length %d", e.Index, e.Length)
}

func (e *IndexError) Unwrap() error { return ErrIndexRange }

// DecodeError reports a block whose byte length disagrees with
// shape * itemsize
type DecodeError struct {
	Block []int
	Want  int
	Got   int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: block %s: expected %d bytes, got %d", ErrDecode, BlockKey(e.Block), e.Want, e.Got)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }
