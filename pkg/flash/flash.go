// Package flash abstracts read access to device flash. The debugger itself
// is external; the tool reads dumps saved with it.
package flash

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ssargent/fmntools/pkg/ihex"
)

// Reader reads a range of device flash
type Reader interface {
	Read(address uint32, length int) ([]byte, error)
}

// Image is a raw flash dump that starts at Base. Bytes outside the dump
// read as erased flash.
type Image struct {
	Base uint32
	Data []byte
}

// Read implements Reader
func (img *Image) Read(address uint32, length int) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("negative read length %d", length)
	}
	out := make([]byte, length)
	for i := range out {
		out[i] = 0xFF
	}

	start := int64(address) - int64(img.Base)
	end := start + int64(length)
	lo, hi := max(start, 0), min(end, int64(len(img.Data)))
	if lo < hi {
		copy(out[lo-start:], img.Data[lo:hi])
	}
	return out, nil
}

// OpenDump opens a flash dump. Files ending in .hex are parsed as Intel HEX
// and carry their own addresses; anything else is a raw dump starting at
// dumpBase.
func OpenDump(path string, dumpBase uint32) (Reader, error) {
	if strings.EqualFold(filepath.Ext(path), ".hex") {
		m, err := ihex.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read hex dump: %w", err)
		}
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}
	return &Image{Base: dumpBase, Data: data}, nil
}
