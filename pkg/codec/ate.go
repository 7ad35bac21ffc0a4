package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Layout constants of the settings store
const (
	SectorSize = 4096 // Erase unit and addressing window of a sector
	ATESize    = 8    // Size of an allocation table entry
	WordSize   = 4    // Payload alignment
	PadByte    = 0xFF // Erased flash value used for padding
	PartByte   = 0xFF // Part field of every ATE written by this store

	// NameIDBase is the name counter record id. Key records are numbered
	// NameIDBase+1, NameIDBase+2 and so on.
	NameIDBase uint16 = 0x8000
	// ValueIDFlag turns a key record id into its value record id. It is bit
	// 0x40 of the high byte of the little-endian id.
	ValueIDFlag uint16 = 0x4000

	crcSpan = ATESize - 1
)

var sentinel = bytes.Repeat([]byte{0xFF}, ATESize)

// ATE is a decoded allocation table entry
type ATE struct {
	RecordID   uint16 // Record identifier
	DataOffset uint16 // Payload offset relative to the sector base
	DataLen    uint16 // Unpadded payload length
	Part       uint8  // Part byte, 0xFF for this store
	CRC8       uint8  // Stored checksum
	CRCOK      bool   // Stored checksum matches the recomputed one
}

// EncodeATE serializes an entry and fills in its checksum
// Format: [RecordID(2)][DataOffset(2)][DataLen(2)][Part(1)][CRC8(1)]
func EncodeATE(recordID, dataOffset, dataLen uint16) [ATESize]byte {
	var buf [ATESize]byte
	binary.LittleEndian.PutUint16(buf[0:], recordID)
	binary.LittleEndian.PutUint16(buf[2:], dataOffset)
	binary.LittleEndian.PutUint16(buf[4:], dataLen)
	buf[6] = PartByte
	buf[7] = CRC8(buf[:crcSpan])
	return buf
}

// DecodeATE parses 8 bytes into an ATE. A checksum mismatch is reported
// through CRCOK, not as an error; only a short or long input is an error.
func DecodeATE(data []byte) (ATE, error) {
	if len(data) != ATESize {
		return ATE{}, fmt.Errorf("ATE must be %d bytes, got %d", ATESize, len(data))
	}

	a := ATE{
		RecordID:   binary.LittleEndian.Uint16(data[0:2]),
		DataOffset: binary.LittleEndian.Uint16(data[2:4]),
		DataLen:    binary.LittleEndian.Uint16(data[4:6]),
		Part:       data[6],
		CRC8:       data[7],
	}
	a.CRCOK = CRC8(data[:crcSpan]) == a.CRC8
	return a, nil
}

// Validate returns ErrCRCMismatch when the entry is not trustworthy
func (a ATE) Validate() error {
	if !a.CRCOK {
		return fmt.Errorf("%w: record %#04x", ErrCRCMismatch, a.RecordID)
	}
	return nil
}

// IsValue reports whether the entry describes a value record
func (a ATE) IsValue() bool {
	return a.RecordID&ValueIDFlag != 0
}

// ValueID returns the value record id paired with a key record id
func ValueID(keyID uint16) uint16 {
	return keyID | ValueIDFlag
}

// IsSentinel reports whether b is an unpopulated (erased) ATE slot
func IsSentinel(b []byte) bool {
	return bytes.Equal(b, sentinel)
}

// Pad word-aligns data by appending PadByte. The input is never modified.
func Pad(data []byte) []byte {
	padded := make([]byte, PaddedLen(len(data)))
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = PadByte
	}
	return padded
}

// PaddedLen returns n rounded up to the next multiple of WordSize
func PaddedLen(n int) int {
	return (n + WordSize - 1) &^ (WordSize - 1)
}
