package store

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ssargent/fmntools/pkg/codec"
)

// Scanner locates settings records inside a raw flash dump. The blob must
// start at base, the sector aligned start of the settings region. Scanner
// never modifies the blob.
type Scanner struct {
	blob []byte
	base uint32
}

// NewScanner creates a scanner over blob, which was read from base
func NewScanner(blob []byte, base uint32) (*Scanner, error) {
	if base%codec.SectorSize != 0 {
		return nil, fmt.Errorf("%w: base address %#x is not aligned to %#x",
			ErrMalformedInput, base, codec.SectorSize)
	}
	return &Scanner{blob: blob, base: base}, nil
}

// Find returns the value stored under key. expectedLen <= 0 accepts any length.
func Find(blob []byte, base uint32, key string, expectedLen int) ([]byte, error) {
	s, err := NewScanner(blob, base)
	if err != nil {
		return nil, err
	}
	return s.Find(key, expectedLen)
}

// Find returns a copy of the value stored under key
func (s *Scanner) Find(key string, expectedLen int) ([]byte, error) {
	m, err := s.Lookup(key, expectedLen)
	if err != nil {
		return nil, err
	}
	return m.Value, nil
}

// Lookup locates the key record and value record of key.
//
// An occurrence of the key name only counts when a CRC-valid key ATE in the
// same sector points at it. Each rejected occurrence moves the search cursor
// one byte past it, so the loop ends after at most len(blob) attempts.
//
// When no record is found but a key or value ATE belonging to key failed its
// CRC, the returned error wraps both ErrNotFound and codec.ErrCRCMismatch.
func (s *Scanner) Lookup(key string, expectedLen int) (*Match, error) {
	needle := []byte(key)
	if len(needle) == 0 {
		return nil, fmt.Errorf("%w: empty key name", ErrMalformedInput)
	}

	var corrupt error
	for cursor := 0; cursor < len(s.blob); {
		idx := bytes.Index(s.blob[cursor:], needle)
		if idx < 0 {
			break
		}
		candidate := cursor + idx
		cursor = candidate + 1

		keyATE, keyAddr, ok := s.keyATE(candidate, len(needle), &corrupt)
		if !ok {
			continue
		}

		m, ok := s.valueFor(keyATE, expectedLen, &corrupt)
		if !ok {
			continue
		}
		m.Key = key
		m.KeyATE = keyATE
		m.KeyATEAddr = s.base + uint32(keyAddr)
		return m, nil
	}

	if corrupt != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, key, corrupt)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
}

// keyATE walks the allocation table of the candidate's sector downward from
// the slot below the closing ATE, looking for a key ATE describing the
// payload at candidate. A matching entry with a bad CRC is recorded in corrupt.
func (s *Scanner) keyATE(candidate, keyLen int, corrupt *error) (codec.ATE, int, bool) {
	sectorBase := candidate / codec.SectorSize * codec.SectorSize
	sectorEnd := sectorBase + codec.SectorSize
	if sectorEnd > len(s.blob) {
		return codec.ATE{}, 0, false
	}
	target := candidate - sectorBase

	for off := sectorEnd - 2*codec.ATESize; off >= sectorBase; off -= codec.ATESize {
		raw := s.blob[off : off+codec.ATESize]
		if codec.IsSentinel(raw) {
			return codec.ATE{}, 0, false
		}

		ate, err := codec.DecodeATE(raw)
		if err != nil {
			continue
		}
		if ate.IsValue() || int(ate.DataOffset) != target || int(ate.DataLen) != keyLen {
			continue
		}
		if err := ate.Validate(); err != nil {
			noteCorrupt(corrupt, err)
			continue
		}
		return ate, off, true
	}

	return codec.ATE{}, 0, false
}

// valueFor searches the whole blob for the value ATE paired with keyATE
func (s *Scanner) valueFor(keyATE codec.ATE, expectedLen int, corrupt *error) (*Match, bool) {
	var pattern [2]byte
	binary.LittleEndian.PutUint16(pattern[:], codec.ValueID(keyATE.RecordID))

	for cursor := 0; cursor+codec.ATESize <= len(s.blob); {
		idx := bytes.Index(s.blob[cursor:], pattern[:])
		if idx < 0 {
			return nil, false
		}
		pos := cursor + idx
		cursor = pos + 1

		// ATE slots sit on 8 byte boundaries of a sector aligned blob.
		if pos%codec.ATESize != 0 || pos+codec.ATESize > len(s.blob) {
			continue
		}

		ate, err := codec.DecodeATE(s.blob[pos : pos+codec.ATESize])
		if err != nil {
			continue
		}
		if expectedLen > 0 && int(ate.DataLen) != expectedLen {
			continue
		}
		if ate.DataLen == 0 || int(ate.DataOffset) >= codec.SectorSize {
			continue
		}
		// Only a plausible entry counts as corrupt, stray data bytes do not.
		if err := ate.Validate(); err != nil {
			noteCorrupt(corrupt, err)
			continue
		}

		addr := pos/codec.SectorSize*codec.SectorSize + int(ate.DataOffset)
		end := addr + int(ate.DataLen)
		if end > len(s.blob) {
			continue
		}

		return &Match{
			ValueATE:     ate,
			ValueATEAddr: s.base + uint32(pos),
			ValueAddr:    s.base + uint32(addr),
			Value:        bytes.Clone(s.blob[addr:end]),
		}, true
	}

	return nil, false
}

func noteCorrupt(corrupt *error, err error) {
	if *corrupt == nil {
		*corrupt = err
	}
}

// Sectors reports the state of every complete sector in the blob
func (s *Scanner) Sectors() []SectorInfo {
	var infos []SectorInfo
	for base := 0; base+codec.SectorSize <= len(s.blob); base += codec.SectorSize {
		infos = append(infos, inspectSector(s.blob[base:base+codec.SectorSize], s.base+uint32(base)))
	}
	return infos
}

// StateOf infers the state of a single sector
func StateOf(sector []byte) SectorState {
	if len(sector) < codec.ATESize {
		return SectorErased
	}
	closing := sector[len(sector)-codec.ATESize:]
	if !codec.IsSentinel(closing) {
		return SectorClosed
	}
	for _, b := range sector {
		if b != codec.PadByte {
			return SectorOpen
		}
	}
	return SectorErased
}

func inspectSector(sector []byte, addr uint32) SectorInfo {
	info := SectorInfo{Address: addr, State: StateOf(sector)}
	for off := len(sector) - 2*codec.ATESize; off >= 0; off -= codec.ATESize {
		raw := sector[off : off+codec.ATESize]
		if codec.IsSentinel(raw) {
			break
		}
		info.ATEs++
		if ate, err := codec.DecodeATE(raw); err == nil && ate.CRCOK {
			info.Valid++
		}
	}
	return info
}
