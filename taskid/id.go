// Package taskid defines the globally unique identifier assigned to every
// submitted task.
package taskid

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is a 128-bit task identifier, assigned by the executor at submit time.
type ID [16]byte

// Nil is the zero-value ID; never assigned to a real task.
var Nil ID

// New generates a fresh, random task ID.
func New() ID {
	return ID(uuid.New())
}

// String renders the ID in canonical UUID form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// Parse decodes a canonical UUID string back into an ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, err
	}
	return ID(u), nil
}

// MarshalBinary implements encoding.BinaryMarshaler so IDs can travel
// through the wire envelope's gob encoding as plain 16-byte values.
func (id ID) MarshalBinary() ([]byte, error) {
	out := make([]byte, 16)
	copy(out, id[:])
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (id *ID) UnmarshalBinary(data []byte) error {
	if len(data) != 16 {
		return fmt.Errorf("taskid: invalid binary length %d, expected 16", len(data))
	}
	copy(id[:], data)
	return nil
}
