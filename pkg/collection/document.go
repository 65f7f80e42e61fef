package collection

import "github.com/google/uuid"

// Metadata is an unordered map from a short string key to a tagged value:
// nil, bool, int64, float64, string, or []any built from these.
type Metadata map[string]any

// MaxMetadataKeyLen bounds the length of a metadata key (§3 "a small
// bound"), mirroring the root package's constant of the same name.
const MaxMetadataKeyLen = 128

// Document is the unit of storage returned by Get/ListDocuments.
type Document struct {
	ID       uuid.UUID
	Vector   []float32
	Text     string
	Metadata Metadata
}

// SearchResult is one shaped search hit (§4.12 step 6).
type SearchResult struct {
	ID       uuid.UUID
	Score    float32
	Text     string
	Metadata Metadata
}

// Page is one page of ListDocuments.
type Page struct {
	Documents []Document
	Total     int
}
