package collection

import "errors"

// Sentinel errors this package returns. The root facade classifies these
// via errors.Is into its own error-Kind taxonomy (§7); this package stays
// free of that taxonomy to avoid importing the root package.
var (
	ErrClosed            = errors.New("collection is closed")
	ErrReadOnly          = errors.New("collection is read-only")
	ErrNotFound          = errors.New("document not found")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidVector     = errors.New("invalid vector: contains NaN or Inf")
	ErrInvalidMetadata   = errors.New("metadata key exceeds max length")
	ErrDuplicateID       = errors.New("document id already exists")
	ErrCorrupt           = errors.New("collection data corrupted")
	ErrLockTimeout       = errors.New("lock acquisition timed out")
)
