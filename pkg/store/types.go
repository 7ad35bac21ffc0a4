package store

import (
	"github.com/ssargent/fmntools/pkg/codec"
)

// MaxRecordID is the ceiling of the record counter of one store generation
const MaxRecordID = 999

// Entry is one key/value pair to provision
type Entry struct {
	Key    string // Settings key name, stored as the key record payload
	Value  []byte // Value record payload
	MaxLen int    // Maximum payload length, 0 = limited by the sector only
}

// Placement describes where the builder put a key/value pair
type Placement struct {
	Key          string
	KeyID        uint16 // Key record id, the value record id is codec.ValueID(KeyID)
	KeyOffset    uint16 // Key payload offset within the sector
	ValueOffset  uint16 // Value payload offset within the sector
	ValueLen     int    // Unpadded value length
	KeyATEAddr   uint32 // Absolute address of the key ATE
	ValueATEAddr uint32 // Absolute address of the value ATE
}

// Image is a built settings store, addressed at Base
type Image struct {
	Base    uint32
	Data    []byte
	Records []Placement
}

// End returns the first address past the image
func (img *Image) End() uint32 {
	return img.Base + uint32(len(img.Data))
}

// Sectors returns the number of sectors in the image
func (img *Image) Sectors() int {
	return len(img.Data) / codec.SectorSize
}

// Match is a key/value pair located by the scanner
type Match struct {
	Key          string
	KeyATE       codec.ATE
	ValueATE     codec.ATE
	KeyATEAddr   uint32 // Absolute address of the key ATE
	ValueATEAddr uint32 // Absolute address of the value ATE
	ValueAddr    uint32 // Absolute address of the value payload
	Value        []byte // Copy of the value payload
}

// SectorState is the state of a sector inferred from its closing ATE
type SectorState int

const (
	SectorErased SectorState = iota // Every byte reads 0xFF
	SectorOpen                      // Closing ATE slot unpopulated
	SectorClosed                    // Closing ATE written
)

func (s SectorState) String() string {
	switch s {
	case SectorErased:
		return "erased"
	case SectorOpen:
		return "open"
	case SectorClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SectorInfo summarizes one sector of a blob
type SectorInfo struct {
	Address uint32 // Absolute sector base
	State   SectorState
	ATEs    int // Populated ATE slots below the closing ATE
	Valid   int // Of those, the ones whose CRC validates
}

// Errors
var (
	ErrNotFound         = &StoreError{"record not found"}
	ErrCapacityExceeded = &StoreError{"settings capacity exceeded"}
	ErrMalformedInput   = &StoreError{"malformed input"}
)

// StoreError represents a settings store error
type StoreError struct {
	Message string
}

func (e *StoreError) Error() string {
	return e.Message
}
