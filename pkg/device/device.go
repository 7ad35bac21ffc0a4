// Package device holds the table of supported device families and the
// settings base address rules shared by provisioning and extraction.
package device

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ssargent/fmntools/pkg/codec"
	"github.com/ssargent/fmntools/pkg/store"
)

// DefaultSettingsPartitionSize is the settings partition size of the SDK
// when the build does not override it
const DefaultSettingsPartitionSize = 0x2000

// Family describes one device variant
type Family struct {
	Name                  string `yaml:"name"`
	FlashSize             uint32 `yaml:"flash_size"`
	SettingsPartitionSize uint32 `yaml:"settings_partition_size"`
}

var builtin = []Family{
	{Name: "NRF52832", FlashSize: 0x80000, SettingsPartitionSize: DefaultSettingsPartitionSize},
	{Name: "NRF52833", FlashSize: 0x80000, SettingsPartitionSize: DefaultSettingsPartitionSize},
	{Name: "NRF52840", FlashSize: 0x100000, SettingsPartitionSize: DefaultSettingsPartitionSize},
}

// DefaultSettingsBase returns the settings base when no override is given
func (f Family) DefaultSettingsBase() uint32 {
	return f.FlashSize - f.partitionSize()
}

func (f Family) partitionSize() uint32 {
	if f.SettingsPartitionSize == 0 {
		return DefaultSettingsPartitionSize
	}
	return f.SettingsPartitionSize
}

// SettingsBase resolves the settings base address. An empty override
// selects the default. The result is below the flash size and sector
// aligned, otherwise a store.ErrMalformedInput error is returned.
func (f Family) SettingsBase(override string) (uint32, error) {
	base := f.DefaultSettingsBase()
	if override != "" {
		parsed, err := ParseAddress(override)
		if err != nil {
			return 0, err
		}
		base = parsed
	}

	if base >= f.FlashSize {
		return 0, fmt.Errorf("%w: address is bigger than the target device memory: %#x >= %#x",
			store.ErrMalformedInput, base, f.FlashSize)
	}
	if base%codec.SectorSize != 0 {
		return 0, fmt.Errorf("%w: address should be page aligned: %#x -> %#x",
			store.ErrMalformedInput, base, base&^uint32(codec.SectorSize-1))
	}
	return base, nil
}

// RegionSize returns the bytes from base to the end of flash
func (f Family) RegionSize(base uint32) uint32 {
	if base >= f.FlashSize {
		return 0
	}
	return f.FlashSize - base
}

var hexAddress = regexp.MustCompile(`^[0-9A-Fa-f]+$`)

// ParseAddress parses a hex address with an optional 0x prefix
func ParseAddress(s string) (uint32, error) {
	digits := strings.TrimSpace(s)
	if len(digits) >= 2 && strings.EqualFold(digits[:2], "0x") {
		digits = digits[2:]
	}
	if !hexAddress.MatchString(digits) {
		return 0, fmt.Errorf("%w: malformed memory address: %s", store.ErrMalformedInput, s)
	}
	v, err := strconv.ParseUint(digits, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed memory address: %s", store.ErrMalformedInput, s)
	}
	return uint32(v), nil
}

// Registry maps device names to families
type Registry struct {
	families map[string]Family
}

// NewRegistry returns the built-in families plus extra, which replace
// built-ins of the same name
func NewRegistry(extra ...Family) (*Registry, error) {
	r := &Registry{families: make(map[string]Family)}
	for _, f := range builtin {
		r.families[f.Name] = f
	}
	for _, f := range extra {
		if f.Name == "" {
			return nil, fmt.Errorf("device family without a name")
		}
		if f.FlashSize == 0 || f.FlashSize%codec.SectorSize != 0 {
			return nil, fmt.Errorf("device %s: flash size %#x is not a multiple of %#x",
				f.Name, f.FlashSize, codec.SectorSize)
		}
		if f.partitionSize()%codec.SectorSize != 0 || f.partitionSize() > f.FlashSize {
			return nil, fmt.Errorf("device %s: invalid settings partition size %#x",
				f.Name, f.SettingsPartitionSize)
		}
		f.Name = strings.ToUpper(f.Name)
		r.families[f.Name] = f
	}
	return r, nil
}

// Get returns the family with the given name, case insensitive
func (r *Registry) Get(name string) (Family, error) {
	f, ok := r.families[strings.ToUpper(name)]
	if !ok {
		return Family{}, fmt.Errorf("%w: unknown device %q (choose from: %s)",
			store.ErrMalformedInput, name, strings.Join(r.Names(), ", "))
	}
	return f, nil
}

// Names returns the sorted device names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Families returns every family sorted by name
func (r *Registry) Families() []Family {
	out := make([]Family, 0, len(r.families))
	for _, name := range r.Names() {
		out = append(out, r.families[name])
	}
	return out
}
