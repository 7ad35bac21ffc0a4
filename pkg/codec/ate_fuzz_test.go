//go:build fuzz
// +build fuzz

package codec

import (
	"bytes"
	"testing"
)

// FuzzATE_RoundTrip tests encode/decode round-trip with random fields
func FuzzATE_RoundTrip(f *testing.F) {
	f.Add(uint16(0x8001), uint16(0), uint16(21))
	f.Add(uint16(0xC001), uint16(24), uint16(16))
	f.Add(uint16(0xFFFF), uint16(0xFFFF), uint16(0xFFFF))

	f.Fuzz(func(t *testing.T, id, offset, length uint16) {
		raw := EncodeATE(id, offset, length)

		ate, err := DecodeATE(raw[:])
		if err != nil {
			t.Fatalf("DecodeATE failed: %v", err)
		}
		if !ate.CRCOK {
			t.Fatalf("freshly encoded ATE failed CRC: % x", raw)
		}
		if ate.RecordID != id || ate.DataOffset != offset || ate.DataLen != length {
			t.Errorf("field mismatch: got %+v", ate)
		}
	})
}

// FuzzDecodeATE_ArbitraryBytes checks that decoding never panics and that
// CRCOK agrees with a recomputed checksum
func FuzzDecodeATE_ArbitraryBytes(f *testing.F) {
	f.Add(bytes.Repeat([]byte{0xFF}, ATESize))
	f.Add(make([]byte, ATESize))

	f.Fuzz(func(t *testing.T, data []byte) {
		ate, err := DecodeATE(data)
		if len(data) != ATESize {
			if err == nil {
				t.Fatalf("expected error for %d bytes", len(data))
			}
			return
		}
		if err != nil {
			t.Fatalf("DecodeATE failed: %v", err)
		}
		if ate.CRCOK != (CRC8(data[:7]) == data[7]) {
			t.Errorf("CRCOK inconsistent for % x", data)
		}
	})
}

// FuzzPad checks the padding law on arbitrary data
func FuzzPad(f *testing.F) {
	f.Add([]byte(""))
	f.Add([]byte("fmna/provisioning/998"))

	f.Fuzz(func(t *testing.T, data []byte) {
		padded := Pad(data)
		if len(padded)%WordSize != 0 {
			t.Fatalf("padded length %d not aligned", len(padded))
		}
		if !bytes.Equal(padded[:len(data)], data) {
			t.Fatalf("prefix mismatch")
		}
		for _, b := range padded[len(data):] {
			if b != PadByte {
				t.Fatalf("padding byte %#x", b)
			}
		}
	})
}
