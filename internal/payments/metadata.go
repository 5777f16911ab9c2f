package payments

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	MetaPurchaseID  = "purchase_id"
	MetaCourseID    = "course_id"
	MetaPurchaseIDs = "purchase_ids"
	MetaCourseIDs   = "course_ids"
	MetaBuyerID     = "buyer_id"
	MetaIsCart      = "is_cart"

	// MaxMetadataValue is the processor's limit on one metadata value.
	MaxMetadataValue = 500
)

// idsPerValue keeps a comma-joined id list under MaxMetadataValue.
const idsPerValue = (MaxMetadataValue + 1) / 37

// Line pairs a purchase with the course it pays for.
type Line struct {
	PurchaseID uuid.UUID
	CourseID   uuid.UUID
}

// Metadata identifies the purchases a checkout session pays for. A single
// purchase is a group of one with IsCart false.
type Metadata struct {
	BuyerID uuid.UUID
	IsCart  bool
	Lines   []Line
}

// Encode flattens the group into processor metadata.
func (m Metadata) Encode() map[string]string {
	out := map[string]string{
		MetaBuyerID: m.BuyerID.String(),
		MetaIsCart:  fmt.Sprintf("%t", m.IsCart),
	}
	if !m.IsCart && len(m.Lines) == 1 {
		out[MetaPurchaseID] = m.Lines[0].PurchaseID.String()
		out[MetaCourseID] = m.Lines[0].CourseID.String()
		return out
	}
	purchaseIDs := make([]string, 0, len(m.Lines))
	courseIDs := make([]string, 0, len(m.Lines))
	for _, line := range m.Lines {
		purchaseIDs = append(purchaseIDs, line.PurchaseID.String())
		courseIDs = append(courseIDs, line.CourseID.String())
	}
	putIDList(out, MetaPurchaseIDs, purchaseIDs)
	putIDList(out, MetaCourseIDs, courseIDs)
	return out
}

// putIDList stores ids under key, spilling into key_1, key_2, ... once a value
// would exceed the processor's limit.
func putIDList(out map[string]string, key string, ids []string) {
	for chunk := 0; len(ids) > 0; chunk++ {
		n := min(len(ids), idsPerValue)
		out[chunkKey(key, chunk)] = strings.Join(ids[:n], ",")
		ids = ids[n:]
	}
}

// joinIDList reassembles a list written by putIDList.
func joinIDList(raw map[string]string, key string) string {
	parts := []string{raw[key]}
	for chunk := 1; ; chunk++ {
		value, ok := raw[chunkKey(key, chunk)]
		if !ok {
			return strings.Join(parts, ",")
		}
		parts = append(parts, value)
	}
}

func chunkKey(key string, chunk int) string {
	if chunk == 0 {
		return key
	}
	return fmt.Sprintf("%s_%d", key, chunk)
}

// DecodeMetadata rebuilds the purchase group carried by a session. Both the
// single and the comma-joined cart forms are accepted, including cart lists
// split across numbered keys.
func DecodeMetadata(raw map[string]string) (Metadata, error) {
	var meta Metadata
	if len(raw) == 0 {
		return meta, fmt.Errorf("metadata is empty")
	}

	buyerID, err := uuid.Parse(strings.TrimSpace(raw[MetaBuyerID]))
	if err != nil {
		return meta, fmt.Errorf("invalid %s: %w", MetaBuyerID, err)
	}
	meta.BuyerID = buyerID
	meta.IsCart = strings.EqualFold(strings.TrimSpace(raw[MetaIsCart]), "true")

	if ids := strings.TrimSpace(raw[MetaPurchaseIDs]); ids != "" {
		purchaseIDs, err := parseIDList(joinIDList(raw, MetaPurchaseIDs))
		if err != nil {
			return meta, fmt.Errorf("invalid %s: %w", MetaPurchaseIDs, err)
		}
		courseIDs, err := parseIDList(joinIDList(raw, MetaCourseIDs))
		if err != nil {
			return meta, fmt.Errorf("invalid %s: %w", MetaCourseIDs, err)
		}
		if len(purchaseIDs) != len(courseIDs) {
			return meta, fmt.Errorf("%d purchases but %d courses in metadata", len(purchaseIDs), len(courseIDs))
		}
		for i := range purchaseIDs {
			meta.Lines = append(meta.Lines, Line{PurchaseID: purchaseIDs[i], CourseID: courseIDs[i]})
		}
		return meta, nil
	}

	purchaseID, err := uuid.Parse(strings.TrimSpace(raw[MetaPurchaseID]))
	if err != nil {
		return meta, fmt.Errorf("invalid %s: %w", MetaPurchaseID, err)
	}
	courseID, err := uuid.Parse(strings.TrimSpace(raw[MetaCourseID]))
	if err != nil {
		return meta, fmt.Errorf("invalid %s: %w", MetaCourseID, err)
	}
	meta.Lines = []Line{{PurchaseID: purchaseID, CourseID: courseID}}
	return meta, nil
}

func parseIDList(raw string) ([]uuid.UUID, error) {
	parts := strings.Split(raw, ",")
	out := make([]uuid.UUID, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty id list")
	}
	return out, nil
}
