package ihex

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hexText(t *testing.T, m *Memory) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestWriteTo_KnownRecords(t *testing.T) {
	m := New()
	require.NoError(t, m.Write(0xFE000, []byte{0x01, 0x02}))

	want := ":02000004000FEB\n:02E0000001021B\n:00000001FF\n"
	assert.Equal(t, want, string(hexText(t, m)))
}

func TestWriteTo_SplitsLinesAndWindows(t *testing.T) {
	m := New()
	data := bytes.Repeat([]byte{0xAA}, 40)
	// Straddles the 64K boundary at 0x10000.
	require.NoError(t, m.Write(0xFFF0, data))

	lines := strings.Split(strings.TrimSpace(string(hexText(t, m))), "\n")
	// data(16) ELA data(16) data(8) EOF
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], ":10FFF000"))
	assert.Equal(t, ":020000040001F9", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], ":10000000"))
	assert.True(t, strings.HasPrefix(lines[3], ":08001000"))
	assert.Equal(t, ":00000001FF", lines[4])
}

func TestParse_RoundTrip(t *testing.T) {
	m := New()
	require.NoError(t, m.Write(0x1000, []byte("firmware")))
	require.NoError(t, m.Write(0xFE000, bytes.Repeat([]byte{0x5A}, 100)))
	start := uint32(0x000012C1)
	m.StartLinear = &start

	parsed, err := Parse(bytes.NewReader(hexText(t, m)))
	require.NoError(t, err)

	assert.Equal(t, m.Len(), parsed.Len())
	got, err := parsed.Read(0x1000, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("firmware"), got)

	got, err = parsed.Read(0xFE000, 100)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x5A}, 100), got)

	require.NotNil(t, parsed.StartLinear)
	assert.Equal(t, start, *parsed.StartLinear)
}

func TestParse_ExtendedSegmentAddress(t *testing.T) {
	// Segment 0x1000 -> base 0x10000
	input := ":020000021000EC\n:0100000042BD\n:00000001FF\n"
	m, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	got, err := m.Read(0x10000, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x42}, got)
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{name: "missing start code", input: "02E0000001021B\n:00000001FF\n"},
		{name: "bad checksum", input: ":02E0000001021C\n:00000001FF\n"},
		{name: "bad length", input: ":03E0000001021B\n:00000001FF\n"},
		{name: "not hex", input: ":ZZ\n:00000001FF\n"},
		{name: "missing EOF", input: ":02E0000001021B\n"},
		{name: "data after EOF", input: ":00000001FF\n:02E0000001021B\n"},
		{name: "unknown type", input: ":00000006FA\n:00000001FF\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.input))
			assert.Error(t, err)
		})
	}
}

func TestRead_UnwrittenIsErased(t *testing.T) {
	m := New()
	require.NoError(t, m.Write(0x10, []byte{0x00}))

	got, err := m.Read(0x0E, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF, 0x00, 0xFF}, got)

	_, err = m.Read(0xFFFFFFFF, 2)
	assert.Error(t, err)
}

func TestWrite_AddressOverflow(t *testing.T) {
	m := New()
	assert.Error(t, m.Write(0xFFFFFFFF, []byte{1, 2}))
	assert.NoError(t, m.Write(0xFFFFFFFF, []byte{1}))
}

func TestBounds(t *testing.T) {
	m := New()
	_, _, ok := m.Bounds()
	assert.False(t, ok)

	require.NoError(t, m.Write(0x200, []byte{1, 2, 3}))
	require.NoError(t, m.Write(0x100, []byte{1}))
	lo, hi, ok := m.Bounds()
	require.True(t, ok)
	assert.Equal(t, uint64(0x100), lo)
	assert.Equal(t, uint64(0x203), hi)
}

func TestMerge(t *testing.T) {
	a := New()
	require.NoError(t, a.Write(0x0, []byte("app")))
	b := New()
	require.NoError(t, b.Write(0xFE000, []byte("settings")))

	merged, err := Merge(a, b)
	require.NoError(t, err)
	assert.Equal(t, 11, merged.Len())

	got, err := merged.Read(0xFE000, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("settings"), got)

	assert.Equal(t, 3, a.Len(), "inputs are not modified")
}

func TestMerge_Overlap(t *testing.T) {
	a := New()
	require.NoError(t, a.Write(0xFE000, []byte{1, 2, 3}))
	b := New()
	require.NoError(t, b.Write(0xFE002, []byte{3, 4}))

	_, err := Merge(a, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0xfe002")
}

func TestMerge_StartAddresses(t *testing.T) {
	s1, s2 := uint32(0x100), uint32(0x200)

	a := New()
	a.StartLinear = &s1
	b := New()

	merged, err := Merge(a, b)
	require.NoError(t, err)
	assert.Equal(t, s1, *merged.StartLinear)

	b.StartLinear = &s2
	_, err = Merge(a, b)
	assert.Error(t, err)
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "provisioned.hex")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0600))

	m := New()
	require.NoError(t, m.Write(0xFE000, []byte{0x01, 0x02}))
	require.NoError(t, m.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":02000004000FEB\n:02E0000001021B\n:00000001FF\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must be cleaned up")
}

func TestWriteFile_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "provisioned.hex")

	m := New()
	require.NoError(t, m.Write(0x0, []byte{0x01}))
	assert.Error(t, m.WriteFile(path))
	assert.NoFileExists(t, path)
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.hex"))
	assert.Error(t, err)
}
