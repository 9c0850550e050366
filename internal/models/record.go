// Package models defines the domain types exchanged between the store and its callers.
package models

import (
	"fmt"
	"time"
)

// ObjectID identifies one record: the entity it belongs to plus the
// store-assigned reference. The zero value is a temporary id that has not
// been assigned a reference yet.
type ObjectID struct {
	Entity string `json:"entity"`
	Ref    string `json:"ref"`
}

// IsTemporary reports whether the id still lacks a store reference.
func (id ObjectID) IsTemporary() bool {
	return id.Ref == ""
}

func (id ObjectID) String() string {
	return fmt.Sprintf("%s/%s", id.Entity, id.Ref)
}

// Attributes maps attribute names to their typed values
// (string, time.Time, int64, float64, bool, []byte).
type Attributes map[string]any

// Clone returns a shallow copy; []byte values are copied.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		if b, ok := v.([]byte); ok {
			v = append([]byte(nil), b...)
		}
		out[k] = v
	}
	return out
}

// Record is one materialised record.
type Record struct {
	ID     ObjectID   `json:"id"`
	Values Attributes `json:"values"`
}

// RecordMetadata is the lightweight index view of a stored record.
type RecordMetadata struct {
	ID        ObjectID  `json:"id"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
