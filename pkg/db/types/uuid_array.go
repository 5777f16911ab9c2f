// Package dbtypes holds column types shared by the gorm models.
package dbtypes

import (
	"database/sql/driver"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// UUIDArray maps a Postgres uuid[] column. Against sqlite the same array
// literal, {a,b}, is stored as text.
type UUIDArray []uuid.UUID

// Scan accepts the array literal as text or bytes. NULL scans to an empty array.
func (a *UUIDArray) Scan(src any) error {
	var literal string
	switch v := src.(type) {
	case nil:
		*a = UUIDArray{}
		return nil
	case string:
		literal = v
	case []byte:
		literal = string(v)
	default:
		return fmt.Errorf("dbtypes: cannot scan %T into UUIDArray", src)
	}

	inner, ok := strings.CutPrefix(strings.TrimSpace(literal), "{")
	if ok {
		inner, ok = strings.CutSuffix(inner, "}")
	}
	if !ok {
		return fmt.Errorf("dbtypes: %q is not an array literal", literal)
	}

	ids := UUIDArray{}
	for field := range strings.SplitSeq(inner, ",") {
		field = strings.Trim(strings.TrimSpace(field), `"`)
		if field == "" {
			continue
		}
		id, err := uuid.Parse(field)
		if err != nil {
			return fmt.Errorf("dbtypes: array element %q: %w", field, err)
		}
		ids = append(ids, id)
	}
	*a = ids
	return nil
}

func (a UUIDArray) Value() (driver.Value, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, id := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(id.String())
	}
	b.WriteByte('}')
	return b.String(), nil
}

func (a UUIDArray) Contains(id uuid.UUID) bool {
	return slices.Contains(a, id)
}

// With returns a copy with id appended and reports whether it was added.
// Membership is a set: an id already present is not appended twice.
func (a UUIDArray) With(id uuid.UUID) (UUIDArray, bool) {
	if a.Contains(id) {
		return a, false
	}
	return append(slices.Clone(a), id), true
}

// Without returns a copy with every occurrence of id removed.
func (a UUIDArray) Without(id uuid.UUID) (UUIDArray, bool) {
	out := slices.DeleteFunc(slices.Clone(a), func(c uuid.UUID) bool { return c == id })
	if out == nil {
		out = UUIDArray{}
	}
	return out, len(out) != len(a)
}
