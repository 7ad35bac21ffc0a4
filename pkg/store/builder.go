package store

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ssargent/fmntools/pkg/codec"
)

// nameCounterLen is the payload length of the name counter record
const nameCounterLen = 2

// Builder assembles a fresh settings store image in a single sector.
// ATEs are written from the top of the sector downward and payloads from
// the sector base upward. A Builder is not safe for concurrent use.
type Builder struct {
	base       uint32
	regionSize uint32
	sector     []byte
	ateWra     int // Next free ATE slot, relative to the sector base
	dataWra    int // Next free payload byte, relative to the sector base
	counter    uint16
	records    []Placement
	finished   bool
}

// NewBuilder creates a builder for a store at base. regionSize is the number
// of bytes available from base up to the end of flash.
func NewBuilder(base, regionSize uint32) (*Builder, error) {
	if base%codec.SectorSize != 0 {
		return nil, fmt.Errorf("%w: base address %#x is not aligned to %#x",
			ErrMalformedInput, base, codec.SectorSize)
	}
	if regionSize < codec.SectorSize {
		return nil, fmt.Errorf("%w: region of %d bytes at %#x cannot hold a %d byte sector",
			ErrCapacityExceeded, regionSize, base, codec.SectorSize)
	}

	return &Builder{
		base:       base,
		regionSize: regionSize,
		sector:     bytes.Repeat([]byte{codec.PadByte}, codec.SectorSize),
		// The last slot is the closing ATE and stays erased.
		ateWra: codec.SectorSize - 2*codec.ATESize,
	}, nil
}

// Add appends a key record and its value record. On error nothing is written.
func (b *Builder) Add(e Entry) error {
	if b.finished {
		return fmt.Errorf("builder already finished")
	}
	if e.Key == "" {
		return fmt.Errorf("%w: empty key name", ErrMalformedInput)
	}
	if len(e.Value) == 0 {
		// A zero length value is a deletion for the settings subsystem.
		return fmt.Errorf("%w: empty payload for %s", ErrMalformedInput, e.Key)
	}
	if e.MaxLen > 0 && len(e.Value) > e.MaxLen {
		return fmt.Errorf("%w: payload for %s is %d bytes, maximum is %d",
			ErrCapacityExceeded, e.Key, len(e.Value), e.MaxLen)
	}
	if b.counter >= MaxRecordID {
		return fmt.Errorf("%w: record id ceiling %d reached", ErrCapacityExceeded, MaxRecordID)
	}

	key := []byte(e.Key)
	dataNeed := codec.PaddedLen(len(key)) + codec.PaddedLen(len(e.Value))
	// Room for the name counter record is kept so that Finish cannot fail.
	reserve := codec.PaddedLen(nameCounterLen)
	if !b.fits(dataNeed+reserve, 3) {
		return fmt.Errorf("%w: %s needs %d bytes, %d left in sector",
			ErrCapacityExceeded, e.Key, dataNeed+2*codec.ATESize, b.free())
	}

	b.counter++
	id := codec.NameIDBase + b.counter

	p := Placement{Key: e.Key, KeyID: id, ValueLen: len(e.Value)}
	p.KeyATEAddr = b.base + uint32(b.ateWra)
	p.KeyOffset = b.appendRecord(id, key)
	p.ValueATEAddr = b.base + uint32(b.ateWra)
	p.ValueOffset = b.appendRecord(codec.ValueID(id), e.Value)
	b.records = append(b.records, p)

	return nil
}

// Finish writes the name counter record and returns the image. The builder
// cannot be used afterwards.
func (b *Builder) Finish() (*Image, error) {
	if b.finished {
		return nil, fmt.Errorf("builder already finished")
	}
	b.finished = true

	if b.counter > 0 {
		var last [nameCounterLen]byte
		binary.LittleEndian.PutUint16(last[:], codec.NameIDBase+b.counter)
		b.appendRecord(codec.NameIDBase, last[:])
	}

	return &Image{
		Base:    b.base,
		Data:    bytes.Clone(b.sector),
		Records: append([]Placement(nil), b.records...),
	}, nil
}

// appendRecord writes one ATE and its padded payload, returning the data offset
func (b *Builder) appendRecord(id uint16, data []byte) uint16 {
	offset := uint16(b.dataWra)
	padded := codec.Pad(data)
	copy(b.sector[b.dataWra:], padded)
	b.dataWra += len(padded)

	ate := codec.EncodeATE(id, offset, uint16(len(data)))
	copy(b.sector[b.ateWra:], ate[:])
	b.ateWra -= codec.ATESize

	return offset
}

// fits reports whether dataBytes of payload and ates entries can be written
// while keeping one free ATE slot between payload and allocation table
func (b *Builder) fits(dataBytes, ates int) bool {
	return b.dataWra+dataBytes <= b.ateWra-(ates-1)*codec.ATESize-codec.ATESize
}

func (b *Builder) free() int {
	return b.ateWra - b.dataWra
}

// Build assembles a store image from an ordered list of entries
func Build(base, regionSize uint32, entries []Entry) (*Image, error) {
	b, err := NewBuilder(base, regionSize)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := b.Add(e); err != nil {
			return nil, err
		}
	}
	return b.Finish()
}
