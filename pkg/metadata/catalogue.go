// Package metadata holds the catalogue of provisioned settings fields.
//
// Each field has a numeric id and a fixed length. The firmware loads the
// field from the settings key "fmna/provisioning/<id>" and rejects values
// whose length differs from the catalogue length.
package metadata

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/ssargent/fmntools/pkg/store"
)

// KeyPrefix is the settings subtree of provisioned fields
const KeyPrefix = "fmna/provisioning/"

// Field describes one provisioned field
type Field struct {
	Name string // Logical name
	ID   int    // Numeric id, the last element of the settings key
	Len  int    // Fixed payload length in bytes
	// TrimZeros strips trailing zero bytes after extraction. Only the
	// auth token is zero padded on provisioning.
	TrimZeros bool
}

// Catalogue entries
var (
	UUID         = Field{Name: "MFI_TOKEN_UUID", ID: 998, Len: 16}
	AuthToken    = Field{Name: "MFI_AUTH_TOKEN", ID: 999, Len: 1024, TrimZeros: true}
	SerialNumber = Field{Name: "SERIAL_NUMBER", ID: 997, Len: 16}
)

// All returns the catalogue in provisioning order
func All() []Field {
	return []Field{UUID, AuthToken, SerialNumber}
}

// KeyName renders an id as the settings key expected by the firmware
func KeyName(id int) string {
	return KeyPrefix + strconv.Itoa(id)
}

// Key returns the settings key of the field
func (f Field) Key() string {
	return KeyName(f.ID)
}

// Entry wraps a payload into a store entry bounded by the field length
func (f Field) Entry(payload []byte) store.Entry {
	return store.Entry{Key: f.Key(), Value: payload, MaxLen: f.Len}
}

// Check verifies that payload has exactly the field length
func (f Field) Check(payload []byte) error {
	if len(payload) != f.Len {
		return fmt.Errorf("%s must be %d bytes, got %d", f.Name, f.Len, len(payload))
	}
	return nil
}

// Unpad applies the field's extraction convention to a decoded value.
// The result never aliases value.
func (f Field) Unpad(value []byte) []byte {
	out := bytes.Clone(value)
	if f.TrimZeros {
		out = bytes.TrimRight(out, "\x00")
	}
	return out
}
