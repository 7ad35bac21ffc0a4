// Package ihex reads, writes and merges Intel HEX files.
//
// A Memory is a sparse byte map keyed by absolute address. Bytes that were
// never written read back as 0xFF, the erased flash value.
package ihex

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/kjk/common/atomicfile"
)

// Record types
const (
	recData           = 0x00
	recEOF            = 0x01
	recExtSegment     = 0x02
	recStartSegment   = 0x03
	recExtLinear      = 0x04
	recStartLinear    = 0x05
	bytesPerRecord    = 16
	erasedByte        = 0xFF
	maxAddress uint64 = 1 << 32
)

// Memory is a sparse image of a flash address space
type Memory struct {
	data map[uint32]byte
	// StartLinear is the entry point of a type 05 record, if any
	StartLinear *uint32
	// StartSegment holds CS:IP of a type 03 record, if any
	StartSegment *uint32
}

// New returns an empty Memory
func New() *Memory {
	return &Memory{data: make(map[uint32]byte)}
}

// Write stores data at base, overwriting any previous content
func (m *Memory) Write(base uint32, data []byte) error {
	if uint64(base)+uint64(len(data)) > maxAddress {
		return fmt.Errorf("write of %d bytes at %#x exceeds the 32-bit address space", len(data), base)
	}
	for i, b := range data {
		m.data[base+uint32(i)] = b
	}
	return nil
}

// Read returns length bytes starting at address. Unwritten bytes read as 0xFF.
func (m *Memory) Read(address uint32, length int) ([]byte, error) {
	if length < 0 || uint64(address)+uint64(length) > maxAddress {
		return nil, fmt.Errorf("read of %d bytes at %#x is out of range", length, address)
	}
	out := make([]byte, length)
	for i := range out {
		b, ok := m.data[address+uint32(i)]
		if !ok {
			b = erasedByte
		}
		out[i] = b
	}
	return out, nil
}

// Len returns the number of populated addresses
func (m *Memory) Len() int {
	return len(m.data)
}

// Bounds returns the lowest populated address and the address past the
// highest one
func (m *Memory) Bounds() (lo, hi uint64, ok bool) {
	if len(m.data) == 0 {
		return 0, 0, false
	}
	first := true
	for addr := range m.data {
		a := uint64(addr)
		if first || a < lo {
			lo = a
		}
		if first || a+1 > hi {
			hi = a + 1
		}
		first = false
	}
	return lo, hi, true
}

func (m *Memory) addresses() []uint32 {
	addrs := make([]uint32, 0, len(m.data))
	for addr := range m.data {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// Merge returns a new Memory holding a and b. Any address populated in both
// is an error, as are conflicting start addresses.
func Merge(a, b *Memory) (*Memory, error) {
	out := New()
	for addr, v := range a.data {
		out.data[addr] = v
	}
	for _, addr := range b.addresses() {
		if _, ok := out.data[addr]; ok {
			return nil, fmt.Errorf("address overlap at %#x", addr)
		}
		out.data[addr] = b.data[addr]
	}

	start, err := mergeStart(a.StartLinear, b.StartLinear)
	if err != nil {
		return nil, fmt.Errorf("start linear address: %w", err)
	}
	out.StartLinear = start
	start, err = mergeStart(a.StartSegment, b.StartSegment)
	if err != nil {
		return nil, fmt.Errorf("start segment address: %w", err)
	}
	out.StartSegment = start
	return out, nil
}

func mergeStart(a, b *uint32) (*uint32, error) {
	switch {
	case a == nil:
		return b, nil
	case b == nil || *a == *b:
		return a, nil
	default:
		return nil, fmt.Errorf("conflict %#x != %#x", *a, *b)
	}
}

// Parse reads an Intel HEX stream
func Parse(r io.Reader) (*Memory, error) {
	m := New()
	var upper uint32
	sawEOF := false

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if sawEOF {
			return nil, fmt.Errorf("line %d: data after end of file record", lineNo)
		}
		if line[0] != ':' {
			return nil, fmt.Errorf("line %d: missing start code", lineNo)
		}

		raw, err := hex.DecodeString(line[1:])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if len(raw) < 5 || len(raw) != int(raw[0])+5 {
			return nil, fmt.Errorf("line %d: bad record length", lineNo)
		}
		if checksum(raw[:len(raw)-1]) != raw[len(raw)-1] {
			return nil, fmt.Errorf("line %d: checksum mismatch", lineNo)
		}

		offset := uint32(raw[1])<<8 | uint32(raw[2])
		payload := raw[4 : len(raw)-1]

		switch raw[3] {
		case recData:
			if err := m.Write(upper+offset, payload); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
		case recEOF:
			sawEOF = true
		case recExtSegment:
			if len(payload) != 2 {
				return nil, fmt.Errorf("line %d: bad extended segment address", lineNo)
			}
			upper = (uint32(payload[0])<<8 | uint32(payload[1])) << 4
		case recExtLinear:
			if len(payload) != 2 {
				return nil, fmt.Errorf("line %d: bad extended linear address", lineNo)
			}
			upper = (uint32(payload[0])<<8 | uint32(payload[1])) << 16
		case recStartSegment, recStartLinear:
			if len(payload) != 4 {
				return nil, fmt.Errorf("line %d: bad start address", lineNo)
			}
			v := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
			if raw[3] == recStartLinear {
				m.StartLinear = &v
			} else {
				m.StartSegment = &v
			}
		default:
			return nil, fmt.Errorf("line %d: unknown record type %#02x", lineNo, raw[3])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawEOF {
		return nil, fmt.Errorf("missing end of file record")
	}
	return m, nil
}

// ReadFile parses the Intel HEX file at path
func ReadFile(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// WriteTo writes the memory as Intel HEX with 16 byte data records
func (m *Memory) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64
	emit := func(typ byte, offset uint16, payload []byte) error {
		rec := make([]byte, 0, len(payload)+5)
		rec = append(rec, byte(len(payload)), byte(offset>>8), byte(offset), typ)
		rec = append(rec, payload...)
		rec = append(rec, checksum(rec))
		n, err := fmt.Fprintf(bw, ":%s\n", strings.ToUpper(hex.EncodeToString(rec)))
		written += int64(n)
		return err
	}

	addrs := m.addresses()
	upper := uint32(0)
	for i := 0; i < len(addrs); {
		start := addrs[i]
		if start&0xFFFF0000 != upper {
			upper = start & 0xFFFF0000
			if err := emit(recExtLinear, 0, []byte{byte(upper >> 24), byte(upper >> 16)}); err != nil {
				return written, err
			}
		}

		// Contiguous run within one 16 byte line and one 64K window
		var chunk []byte
		j := i
		for j < len(addrs) && len(chunk) < bytesPerRecord &&
			addrs[j] == start+uint32(len(chunk)) && addrs[j]&0xFFFF0000 == upper {
			chunk = append(chunk, m.data[addrs[j]])
			j++
		}
		if err := emit(recData, uint16(start), chunk); err != nil {
			return written, err
		}
		i = j
	}

	if m.StartSegment != nil {
		v := *m.StartSegment
		if err := emit(recStartSegment, 0, []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}); err != nil {
			return written, err
		}
	}
	if m.StartLinear != nil {
		v := *m.StartLinear
		if err := emit(recStartLinear, 0, []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}); err != nil {
			return written, err
		}
	}
	if err := emit(recEOF, 0, nil); err != nil {
		return written, err
	}
	return written, bw.Flush()
}

// WriteFile writes the memory to path atomically, so a failed write never
// leaves a truncated hex file behind
func (m *Memory) WriteFile(path string) error {
	f, err := atomicfile.New(path)
	if err != nil {
		return err
	}
	defer f.RemoveIfNotClosed()

	if _, err := m.WriteTo(f); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chmod(path, 0644)
}

func checksum(rec []byte) byte {
	var sum byte
	for _, b := range rec {
		sum += b
	}
	return -sum
}
