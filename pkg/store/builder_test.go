package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/fmntools/pkg/codec"
)

const testBase = 0xFE000

func testUUID() []byte {
	return []byte{
		0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE, 0xF0,
		0x0F, 0xED, 0xCB, 0xA9, 0x87, 0x65, 0x43, 0x21,
	}
}

func testToken(n int) []byte {
	token := make([]byte, 1024)
	for i := 0; i < n; i++ {
		token[i] = byte(i*7 + 1)
	}
	return token
}

func ateAt(t *testing.T, img *Image, rel int) codec.ATE {
	t.Helper()
	ate, err := codec.DecodeATE(img.Data[rel : rel+codec.ATESize])
	require.NoError(t, err)
	return ate
}

func TestBuild_Layout(t *testing.T) {
	img, err := Build(testBase, 0x2000, []Entry{
		{Key: "UUID_KEY", Value: testUUID(), MaxLen: 16},
		{Key: "TOKEN_KEY", Value: testToken(600), MaxLen: 1024},
	})
	require.NoError(t, err)

	assert.Equal(t, uint32(testBase), img.Base)
	assert.Len(t, img.Data, codec.SectorSize)
	assert.Equal(t, 1, img.Sectors())
	assert.Equal(t, uint32(testBase+codec.SectorSize), img.End())

	// Closing slot stays erased, the sector is open.
	assert.True(t, codec.IsSentinel(img.Data[codec.SectorSize-codec.ATESize:]))
	assert.Equal(t, SectorOpen, StateOf(img.Data))

	expected := []struct {
		slot   int
		id     uint16
		offset uint16
		length uint16
	}{
		{slot: 4080, id: 0x8001, offset: 0, length: 8},
		{slot: 4072, id: 0xC001, offset: 8, length: 16},
		{slot: 4064, id: 0x8002, offset: 24, length: 9},
		{slot: 4056, id: 0xC002, offset: 36, length: 1024},
		{slot: 4048, id: 0x8000, offset: 1060, length: 2},
	}
	for _, e := range expected {
		ate := ateAt(t, img, e.slot)
		assert.True(t, ate.CRCOK, "slot %d", e.slot)
		assert.Equal(t, e.id, ate.RecordID, "slot %d", e.slot)
		assert.Equal(t, e.offset, ate.DataOffset, "slot %d", e.slot)
		assert.Equal(t, e.length, ate.DataLen, "slot %d", e.slot)
	}
	assert.True(t, codec.IsSentinel(img.Data[4040:4048]), "slot below the table must be free")

	// Payloads
	assert.Equal(t, []byte("UUID_KEY"), img.Data[0:8])
	assert.Equal(t, testUUID(), img.Data[8:24])
	assert.Equal(t, []byte("TOKEN_KEY"), img.Data[24:33])
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF}, img.Data[33:36], "key padding must be erased bytes")
	assert.Equal(t, testToken(600), img.Data[36:1060])
	assert.Equal(t, uint16(0x8002), binary.LittleEndian.Uint16(img.Data[1060:1062]))
	assert.Equal(t, []byte{0xFF, 0xFF}, img.Data[1062:1064])

	// Untouched bytes stay erased.
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 4048-1064), img.Data[1064:4048])
}

func TestBuild_Placements(t *testing.T) {
	img, err := Build(testBase, 0x2000, []Entry{
		{Key: "UUID_KEY", Value: testUUID()},
		{Key: "TOKEN_KEY", Value: testToken(10)},
	})
	require.NoError(t, err)
	require.Len(t, img.Records, 2)

	first := img.Records[0]
	assert.Equal(t, "UUID_KEY", first.Key)
	assert.Equal(t, uint16(0x8001), first.KeyID)
	assert.Equal(t, uint32(testBase+4080), first.KeyATEAddr)
	assert.Equal(t, uint32(testBase+4072), first.ValueATEAddr)
	assert.Equal(t, uint16(8), first.ValueOffset)
	assert.Equal(t, 16, first.ValueLen)

	second := img.Records[1]
	assert.Equal(t, uint16(0x8002), second.KeyID)
	assert.Equal(t, uint16(24), second.KeyOffset)
}

func TestBuild_RecordIDsUnique(t *testing.T) {
	entries := make([]Entry, 0, 20)
	for i := 0; i < 20; i++ {
		entries = append(entries, Entry{Key: "key/" + string(rune('a'+i)), Value: []byte{byte(i), 1, 2}})
	}
	img, err := Build(testBase, 0x2000, entries)
	require.NoError(t, err)

	seen := map[uint16]bool{}
	for off := codec.SectorSize - 2*codec.ATESize; off >= 0; off -= codec.ATESize {
		raw := img.Data[off : off+codec.ATESize]
		if codec.IsSentinel(raw) {
			break
		}
		ate := ateAt(t, img, off)
		require.True(t, ate.CRCOK)
		assert.False(t, seen[ate.RecordID], "duplicate id %#x", ate.RecordID)
		seen[ate.RecordID] = true
	}
	assert.Len(t, seen, 41)
}

func TestBuild_Errors(t *testing.T) {
	t.Run("unaligned base", func(t *testing.T) {
		_, err := Build(testBase+0x10, 0x2000, []Entry{{Key: "k", Value: []byte{1}}})
		assert.True(t, errors.Is(err, ErrMalformedInput))
	})

	t.Run("region smaller than a sector", func(t *testing.T) {
		_, err := Build(testBase, 0x800, []Entry{{Key: "k", Value: []byte{1}}})
		assert.True(t, errors.Is(err, ErrCapacityExceeded))
	})

	t.Run("payload above catalogue maximum", func(t *testing.T) {
		_, err := Build(testBase, 0x2000, []Entry{{Key: "k", Value: make([]byte, 17), MaxLen: 16}})
		assert.True(t, errors.Is(err, ErrCapacityExceeded))
	})

	t.Run("payload does not fit the sector", func(t *testing.T) {
		_, err := Build(testBase, 0x2000, []Entry{
			{Key: "a", Value: make([]byte, 2048)},
			{Key: "b", Value: make([]byte, 2048)},
		})
		assert.True(t, errors.Is(err, ErrCapacityExceeded))
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := Build(testBase, 0x2000, []Entry{{Key: "", Value: []byte{1}}})
		assert.True(t, errors.Is(err, ErrMalformedInput))
	})

	t.Run("empty payload", func(t *testing.T) {
		_, err := Build(testBase, 0x2000, []Entry{{Key: "k"}})
		assert.True(t, errors.Is(err, ErrMalformedInput))
	})
}

func TestBuilder_FailedAddLeavesImageUntouched(t *testing.T) {
	b, err := NewBuilder(testBase, 0x2000)
	require.NoError(t, err)

	require.NoError(t, b.Add(Entry{Key: "a", Value: make([]byte, 2000)}))
	err = b.Add(Entry{Key: "b", Value: make([]byte, 2100)})
	require.True(t, errors.Is(err, ErrCapacityExceeded))

	img, err := b.Finish()
	require.NoError(t, err)
	require.Len(t, img.Records, 1)

	// Only the first pair and the name counter were written.
	ate := ateAt(t, img, 4064)
	assert.Equal(t, uint16(0x8000), ate.RecordID)
	assert.Equal(t, uint16(0x8001), binary.LittleEndian.Uint16(img.Data[2004:2006]))
	assert.True(t, codec.IsSentinel(img.Data[4056:4064]))
}

func TestBuilder_FillsSectorExactly(t *testing.T) {
	b, err := NewBuilder(testBase, 0x2000)
	require.NoError(t, err)

	// One free slot, key "k" (4), name counter (4) and three ATEs leave
	// 4096 - 8 (closing) - 8 (free) - 24 - 4 - 4 bytes of value.
	maxValue := codec.SectorSize - 8 - 8 - 3*codec.ATESize - 4 - 4
	require.NoError(t, b.Add(Entry{Key: "k", Value: make([]byte, maxValue)}))

	b2, err := NewBuilder(testBase, 0x2000)
	require.NoError(t, err)
	err = b2.Add(Entry{Key: "k", Value: make([]byte, maxValue+1)})
	assert.True(t, errors.Is(err, ErrCapacityExceeded))
}

func TestBuilder_FinishTwice(t *testing.T) {
	b, err := NewBuilder(testBase, 0x2000)
	require.NoError(t, err)
	require.NoError(t, b.Add(Entry{Key: "k", Value: []byte{1}}))

	_, err = b.Finish()
	require.NoError(t, err)
	_, err = b.Finish()
	assert.Error(t, err)
	assert.Error(t, b.Add(Entry{Key: "k2", Value: []byte{1}}))
}

func TestBuild_NoEntries(t *testing.T) {
	img, err := Build(testBase, 0x2000, nil)
	require.NoError(t, err)
	assert.Equal(t, SectorErased, StateOf(img.Data))
	assert.Empty(t, img.Records)
}
