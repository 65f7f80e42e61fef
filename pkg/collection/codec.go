package collection

import (
	"fmt"

	"github.com/gbchill/piramid/internal/encoding"
	"github.com/gbchill/piramid/pkg/quantization"
	"github.com/google/uuid"
)

// encodeDocument builds the on-disk record bytes for one document (§4.3),
// quantizing the vector per the collection's QuantizationPolicy.
func (c *Collection) encodeDocument(id uuid.UUID, vector []float32, text string, meta Metadata) ([]byte, error) {
	metaBytes, err := encoding.EncodeMetadata(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	r := encoding.Record{ID: [16]byte(id), Text: text, MetaBytes: metaBytes}
	if c.cfg.Quantization == QuantizeScalarInt8 {
		q := quantization.Quantize(vector)
		r.Quantized = true
		r.Scale = q.Scale
		r.Quantized8 = q.Codes
	} else {
		r.VectorF32 = vector
	}
	return encoding.EncodeRecord(r)
}

// decodeDocument parses the on-disk record bytes back into a Document,
// dequantizing the vector if it was stored quantized.
func decodeDocument(raw []byte) (Document, error) {
	r, _, err := encoding.DecodeRecord(raw)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	meta, err := encoding.DecodeMetadata(r.MetaBytes)
	if err != nil {
		return Document{}, fmt.Errorf("%w: decode metadata: %v", ErrCorrupt, err)
	}
	return Document{
		ID:       uuid.UUID(r.ID),
		Vector:   decodedVector(r),
		Text:     r.Text,
		Metadata: Metadata(meta),
	}, nil
}
