package datapool

import "errors"

var (
	// ErrNotFound indicates that no contribution is stored under the key.
	ErrNotFound = errors.New("datapool: contribution not found")
	// ErrClosed indicates that the pool has been closed.
	ErrClosed = errors.New("datapool: pool is closed")
	// ErrDuplicateName indicates that a pool with the same name is already
	// registered in the target registry.
	ErrDuplicateName = errors.New("datapool: pool name already registered")
	// ErrTimeout indicates that the context deadline expired.
	ErrTimeout = errors.New("datapool: operation timed out")
	// ErrCanceled indicates that the context was canceled.
	ErrCanceled = errors.New("datapool: operation canceled")
)
