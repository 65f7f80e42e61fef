package storage

import "errors"

var (
	ErrVersionMismatch = errors.New("unsupported on-disk format version")
	ErrClosed          = errors.New("storage handle is closed")
	ErrNotFound         = errors.New("id not present in offset map")
)
