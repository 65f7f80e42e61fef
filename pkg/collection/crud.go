package collection

import (
	"fmt"

	"github.com/gbchill/piramid/pkg/storage"
	"github.com/google/uuid"
)

// InsertItem is one document submitted to InsertMany.
type InsertItem struct {
	Vector   []float32
	Text     string
	Metadata Metadata
}

// UpdateFields selects which parts of a document Update replaces. A nil
// Vector or Metadata leaves that part of the existing document untouched,
// per §6's update_vector/update_metadata/update split over one wholesale
// write path.
type UpdateFields struct {
	Vector   []float32
	Metadata Metadata
}

// validateVector checks a vector against the collection's fixed dim (once
// set) and rejects non-finite components (§7 KindValidation).
func (c *Collection) validateVector(vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: vector must be non-empty", ErrInvalidVector)
	}
	if isNaNOrInf(vector) {
		return ErrInvalidVector
	}
	dim := int(c.data.Descriptor().Dim)
	if dim != 0 && len(vector) != dim {
		return fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(vector), dim)
	}
	return nil
}

func (c *Collection) validateText(text string) error {
	if c.cfg.MaxTextBytes > 0 && len(text) > c.cfg.MaxTextBytes {
		return fmt.Errorf("text length %d exceeds max %d", len(text), c.cfg.MaxTextBytes)
	}
	return nil
}

// validateMetadata rejects a metadata key longer than MaxMetadataKeyLen
// (§3, §7 KindValidation).
func validateMetadata(meta Metadata) error {
	for k := range meta {
		if len(k) > MaxMetadataKeyLen {
			return fmt.Errorf("%w: key %q is %d bytes", ErrInvalidMetadata, k, len(k))
		}
	}
	return nil
}

// writeDocLocked encodes, WAL-appends, data-file-appends, and index-applies
// one document mutation. Callers must hold c.mu for writing and must have
// already validated vector/text/dim.
func (c *Collection) writeDocLocked(id uuid.UUID, vector []float32, text string, meta Metadata, walType storage.WALRecordType) error {
	if int(c.data.Descriptor().Dim) == 0 {
		c.fixDimLocked(len(vector))
	}

	encoded, err := c.encodeDocument(id, vector, text, meta)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	rec := storage.WALRecord{Type: walType, ID: id, Doc: encoded}
	if err := c.wal.Append(rec); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}
	if err := c.maybeSyncWALLocked(); err != nil {
		return err
	}

	offset, err := c.data.Append(encoded)
	if err != nil {
		return fmt.Errorf("data file append: %w", err)
	}
	c.offsets.Put(id, storage.Entry{Offset: offset, Length: uint32(len(encoded))})

	if walType == storage.WALUpdate {
		c.idx.Remove(id)
	}
	if err := c.idx.Insert(id, vector); err != nil {
		return fmt.Errorf("index insert: %w", err)
	}

	c.data.SetRecordCount(uint64(c.offsets.Len()))
	return nil
}

func (c *Collection) deleteLocked(id uuid.UUID) (bool, error) {
	if _, ok := c.offsets.Get(id); !ok {
		return false, nil
	}
	if err := c.wal.Append(storage.WALRecord{Type: storage.WALDelete, ID: id}); err != nil {
		return false, fmt.Errorf("wal append: %w", err)
	}
	if err := c.maybeSyncWALLocked(); err != nil {
		return false, err
	}
	c.offsets.Delete(id)
	c.idx.Remove(id)
	c.data.SetRecordCount(uint64(c.offsets.Len()))
	return true, nil
}

// Insert encodes vector/text/metadata, appends to the WAL and data file,
// and updates the offset map and ANN index, generating a fresh id (§6
// "insert(vector, text?, metadata?) -> new id").
func (c *Collection) Insert(vector []float32, text string, meta Metadata) (uuid.UUID, error) {
	if err := c.lockWrite(); err != nil {
		return uuid.Nil, err
	}
	defer c.mu.Unlock()
	if err := c.writableLocked(); err != nil {
		return uuid.Nil, err
	}
	if err := c.validateVector(vector); err != nil {
		return uuid.Nil, err
	}
	if err := c.validateText(text); err != nil {
		return uuid.Nil, err
	}
	if err := validateMetadata(meta); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	if err := c.writeDocLocked(id, vector, text, meta, storage.WALInsert); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// InsertMany inserts every item or none: every item is validated up front
// (dim, finiteness, text length) before any WAL record is written (§6
// "all-or-nothing per single WAL batch").
func (c *Collection) InsertMany(items []InsertItem) ([]uuid.UUID, error) {
	if err := c.lockWrite(); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()
	if err := c.writableLocked(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	dim := int(c.data.Descriptor().Dim)
	for i, item := range items {
		if dim == 0 {
			dim = len(item.Vector)
		}
		if len(item.Vector) == 0 {
			return nil, fmt.Errorf("item %d: %w: vector must be non-empty", i, ErrInvalidVector)
		}
		if isNaNOrInf(item.Vector) {
			return nil, fmt.Errorf("item %d: %w", i, ErrInvalidVector)
		}
		if len(item.Vector) != dim {
			return nil, fmt.Errorf("item %d: %w: got %d want %d", i, ErrDimensionMismatch, len(item.Vector), dim)
		}
		if err := c.validateText(item.Text); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if err := validateMetadata(item.Metadata); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}

	ids := make([]uuid.UUID, len(items))
	for i, item := range items {
		ids[i] = uuid.New()
		if err := c.writeDocLocked(ids[i], item.Vector, item.Text, item.Metadata, storage.WALInsert); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}
	return ids, nil
}

// Upsert writes vector/text/metadata under id, generating a fresh id when
// id is nil (§6, §9 "no id => generate => new"). When id names an existing
// document the write is an Update record that replaces the document
// wholesale; when it does not, the write is an Insert record under the
// caller-supplied id.
func (c *Collection) Upsert(id *uuid.UUID, vector []float32, text string, meta Metadata) (uuid.UUID, error) {
	if err := c.lockWrite(); err != nil {
		return uuid.Nil, err
	}
	defer c.mu.Unlock()
	if err := c.writableLocked(); err != nil {
		return uuid.Nil, err
	}
	if err := c.validateVector(vector); err != nil {
		return uuid.Nil, err
	}
	if err := c.validateText(text); err != nil {
		return uuid.Nil, err
	}
	if err := validateMetadata(meta); err != nil {
		return uuid.Nil, err
	}

	var docID uuid.UUID
	walType := storage.WALInsert
	if id == nil {
		docID = uuid.New()
	} else {
		docID = *id
		if _, exists := c.offsets.Get(docID); exists {
			walType = storage.WALUpdate
		}
	}
	if err := c.writeDocLocked(docID, vector, text, meta, walType); err != nil {
		return uuid.Nil, err
	}
	return docID, nil
}

// Update replaces vector and/or metadata on an existing document (§6
// "update(id, vector?, metadata?)"). A nil field in fields keeps that
// part of the document unchanged; text is always preserved.
func (c *Collection) Update(id uuid.UUID, fields UpdateFields) error {
	if err := c.lockWrite(); err != nil {
		return err
	}
	defer c.mu.Unlock()
	if err := c.writableLocked(); err != nil {
		return err
	}
	entry, ok := c.offsets.Get(id)
	if !ok {
		return ErrNotFound
	}
	raw, err := c.data.ReadAt(entry.Offset, uint64(entry.Length))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	existing, err := decodeDocument(raw)
	if err != nil {
		return err
	}

	vector := existing.Vector
	if fields.Vector != nil {
		vector = fields.Vector
	}
	meta := existing.Metadata
	if fields.Metadata != nil {
		meta = fields.Metadata
	}
	if err := c.validateVector(vector); err != nil {
		return err
	}
	if err := validateMetadata(meta); err != nil {
		return err
	}
	return c.writeDocLocked(id, vector, existing.Text, meta, storage.WALUpdate)
}

// UpdateVector replaces only the vector of an existing document.
func (c *Collection) UpdateVector(id uuid.UUID, vector []float32) error {
	return c.Update(id, UpdateFields{Vector: vector})
}

// UpdateMetadata replaces only the metadata of an existing document.
func (c *Collection) UpdateMetadata(id uuid.UUID, meta Metadata) error {
	if meta == nil {
		meta = Metadata{}
	}
	return c.Update(id, UpdateFields{Metadata: meta})
}

// Delete removes a document, reporting whether it was present (§6
// "delete(id) -> boolean").
func (c *Collection) Delete(id uuid.UUID) (bool, error) {
	if err := c.lockWrite(); err != nil {
		return false, err
	}
	defer c.mu.Unlock()
	if err := c.writableLocked(); err != nil {
		return false, err
	}
	return c.deleteLocked(id)
}

// DeleteMany deletes every id present, returning the count actually
// removed (§6 "delete_many(ids) -> count").
func (c *Collection) DeleteMany(ids []uuid.UUID) (int, error) {
	if err := c.lockWrite(); err != nil {
		return 0, err
	}
	defer c.mu.Unlock()
	if err := c.writableLocked(); err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		ok, err := c.deleteLocked(id)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Get fetches a document by id (§6 "get(id) -> document or not found").
func (c *Collection) Get(id uuid.UUID) (Document, error) {
	if err := c.lockRead(); err != nil {
		return Document{}, err
	}
	defer c.mu.RUnlock()
	if err := c.readableLocked(); err != nil {
		return Document{}, err
	}
	entry, ok := c.offsets.Get(id)
	if !ok {
		return Document{}, ErrNotFound
	}
	raw, err := c.data.ReadAt(entry.Offset, uint64(entry.Length))
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return decodeDocument(raw)
}

// ListDocuments returns one page of documents in insertion order (§6
// "list_documents(offset, limit) -> page"). Corrupt individual records are
// dropped from the page rather than failing it (§7).
func (c *Collection) ListDocuments(offset, limit int) (Page, error) {
	if err := c.lockRead(); err != nil {
		return Page{}, err
	}
	defer c.mu.RUnlock()
	if err := c.readableLocked(); err != nil {
		return Page{}, err
	}
	ids := c.offsets.InsertionOrder()
	total := len(ids)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	docs := make([]Document, 0, end-offset)
	for _, id := range ids[offset:end] {
		entry, ok := c.offsets.Get(id)
		if !ok {
			continue
		}
		raw, err := c.data.ReadAt(entry.Offset, uint64(entry.Length))
		if err != nil {
			c.cfg.logger().Warn("list_documents: dropping unreadable record", "id", id, "err", err)
			continue
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			c.cfg.logger().Warn("list_documents: dropping corrupt record", "id", id, "err", err)
			continue
		}
		docs = append(docs, doc)
	}
	return Page{Documents: docs, Total: total}, nil
}
