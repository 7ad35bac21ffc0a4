//go:build fuzz
// +build fuzz

package store

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ssargent/fmntools/pkg/codec"
)

// FuzzFind_ArbitraryBlob checks that the scanner terminates without panicking
// and never modifies its input
func FuzzFind_ArbitraryBlob(f *testing.F) {
	img, err := Build(0, codec.SectorSize, []Entry{{Key: "fmna/provisioning/998", Value: make([]byte, 16)}})
	if err != nil {
		f.Fatal(err)
	}
	f.Add(img.Data, "fmna/provisioning/998", 16)
	f.Add(bytes.Repeat([]byte{0xFF}, codec.SectorSize), "k", 0)
	f.Add([]byte{0x01, 0xC0, 0x01, 0xC0}, "\x01\xC0", 0)

	f.Fuzz(func(t *testing.T, blob []byte, key string, expectedLen int) {
		if len(blob) > 4*codec.SectorSize {
			t.Skip("blob too large for fuzz test")
		}
		snapshot := bytes.Clone(blob)

		value, err := Find(blob, 0, key, expectedLen)
		if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrMalformedInput) {
			t.Fatalf("unexpected error: %v", err)
		}
		if err == nil && len(value) == 0 {
			t.Fatalf("found an empty value")
		}
		if !bytes.Equal(snapshot, blob) {
			t.Fatalf("blob modified")
		}
	})
}

// FuzzBuildFind_RoundTrip checks that every built entry can be found again
func FuzzBuildFind_RoundTrip(f *testing.F) {
	f.Add("fmna/provisioning/998", []byte("0123456789abcdef"))
	f.Add("k", []byte{0x00})

	f.Fuzz(func(t *testing.T, key string, value []byte) {
		img, err := Build(0, codec.SectorSize, []Entry{{Key: key, Value: value}})
		if err != nil {
			return
		}
		got, err := Find(img.Data, 0, key, len(value))
		if err != nil {
			t.Fatalf("Find(%q) failed: %v", key, err)
		}
		if !bytes.Equal(got, value) {
			t.Fatalf("value mismatch")
		}
	})
}
