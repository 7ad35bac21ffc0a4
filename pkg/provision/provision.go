// Package provision turns accessory credentials into a settings image and
// writes it as an Intel HEX file ready to be flashed.
package provision

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ssargent/fmntools/pkg/device"
	"github.com/ssargent/fmntools/pkg/ihex"
	"github.com/ssargent/fmntools/pkg/journal"
	"github.com/ssargent/fmntools/pkg/metadata"
	"github.com/ssargent/fmntools/pkg/store"
)

// DefaultOutputPath is used when the request names no output file
const DefaultOutputPath = "provisioned.hex"

// ErrAlreadyProvisioned is returned when the journal already holds a run for
// the token UUID and the run is not forced
var ErrAlreadyProvisioned = errors.New("token UUID was already provisioned")

var uuidPattern = regexp.MustCompile(`^[0-9A-Fa-f]{8}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{12}$`)

// Request holds the user supplied provisioning parameters
type Request struct {
	UUID         string // aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee
	Token        string // base64
	Serial       string // optional, hex
	Device       string
	SettingsBase string // optional hex override
	OutputPath   string
	InputHex     string // optional firmware hex to merge with
}

// Plan is a validated request
type Plan struct {
	Family     device.Family
	Base       uint32
	UUID       uuid.UUID
	Token      []byte // zero padded to metadata.AuthToken.Len
	TokenLen   int    // decoded token length before padding
	Serial     []byte // nil when no serial number was given
	OutputPath string
	InputHex   string
}

// Parse validates req. Every error wraps store.ErrMalformedInput except an
// oversized token, which wraps store.ErrCapacityExceeded.
func Parse(req Request, registry *device.Registry) (*Plan, error) {
	family, err := registry.Get(req.Device)
	if err != nil {
		return nil, err
	}
	base, err := family.SettingsBase(req.SettingsBase)
	if err != nil {
		return nil, err
	}

	id, err := ParseUUID(req.UUID)
	if err != nil {
		return nil, err
	}

	token, err := DecodeToken(req.Token)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Family:     family,
		Base:       base,
		UUID:       id,
		Token:      padToken(token),
		TokenLen:   len(token),
		OutputPath: req.OutputPath,
		InputHex:   req.InputHex,
	}
	if plan.OutputPath == "" {
		plan.OutputPath = DefaultOutputPath
	}

	if req.Serial != "" {
		plan.Serial, err = ParseSerial(req.Serial)
		if err != nil {
			return nil, err
		}

	}
	return plan, nil
}

// ParseUUID parses a token UUID in 8-4-4-4-12 form
func ParseUUID(s string) (uuid.UUID, error) {
	if !uuidPattern.MatchString(s) {
		return uuid.UUID{}, fmt.Errorf("%w: malformed software token UUID: %q", store.ErrMalformedInput, s)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: malformed software token UUID: %v", store.ErrMalformedInput, err)
	}
	return id, nil
}

// DecodeToken decodes a base64 token. Embedded whitespace is ignored.
func DecodeToken(s string) ([]byte, error) {
	compact := strings.Join(strings.Fields(s), "")
	token, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed software token: %v", store.ErrMalformedInput, err)
	}
	if len(token) == 0 {
		return nil, fmt.Errorf("%w: empty software token", store.ErrMalformedInput)
	}
	if len(token) > metadata.AuthToken.Len {
		return nil, fmt.Errorf("%w: software token is %d bytes, longer than %d",
			store.ErrCapacityExceeded, len(token), metadata.AuthToken.Len)
	}
	return token, nil
}

// ParseSerial parses a serial number given as hex
func ParseSerial(s string) ([]byte, error) {
	serial, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is a malformed serial number, want %d hex characters",
			store.ErrMalformedInput, s, metadata.SerialNumber.Len*2)
	}
	if err := metadata.SerialNumber.Check(serial); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrMalformedInput, err)
	}
	return serial, nil
}

func padToken(token []byte) []byte {
	padded := make([]byte, metadata.AuthToken.Len)
	copy(padded, token)
	return padded
}

// Entries returns the store entries in provisioning order
func (p *Plan) Entries() []store.Entry {
	entries := []store.Entry{
		metadata.UUID.Entry(p.UUID[:]),
		metadata.AuthToken.Entry(p.Token),
	}
	if p.Serial != nil {
		entries = append(entries, metadata.SerialNumber.Entry(p.Serial))
	}
	return entries
}

// Image builds the settings image of the plan
func (p *Plan) Image() (*store.Image, error) {
	return store.Build(p.Base, p.Family.RegionSize(p.Base), p.Entries())
}

// Hex builds the image and returns it as hex memory, merged with the input
// hex file when the plan names one
func (p *Plan) Hex() (*ihex.Memory, *store.Image, error) {
	img, err := p.Image()
	if err != nil {
		return nil, nil, err
	}

	settings := ihex.New()
	if err := settings.Write(img.Base, img.Data); err != nil {
		return nil, nil, err
	}
	if p.InputHex == "" {
		return settings, img, nil
	}

	firmware, err := ihex.ReadFile(p.InputHex)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read input hex: %w", err)
	}
	merged, err := ihex.Merge(firmware, settings)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to merge %s with settings: %w", p.InputHex, err)
	}
	return merged, img, nil
}

// WriteHex builds the image and writes the hex file to the output path.
// It returns the written hex memory and the settings image inside it.
func (p *Plan) WriteHex() (*ihex.Memory, *store.Image, error) {
	mem, img, err := p.Hex()
	if err != nil {
		return nil, nil, err
	}
	if err := mem.WriteFile(p.OutputPath); err != nil {
		return nil, nil, fmt.Errorf("failed to write %s: %w", p.OutputPath, err)
	}
	return mem, img, nil
}

// History is the part of the journal the provisioner needs
type History interface {
	ByUUID(uuid string) (*journal.Entry, error)
	Record(e journal.Entry) (journal.Entry, error)
}

// Provisioner runs plans and keeps the journal up to date
type Provisioner struct {
	logger  *slog.Logger
	history History
}

// NewProvisioner creates a provisioner. history may be nil to skip the
// journal.
func NewProvisioner(logger *slog.Logger, history History) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{logger: logger, history: history}
}

// Result describes a finished run
type Result struct {
	Image *store.Image
	Entry *journal.Entry // nil without a journal
}

// Run writes the plan's hex file. Unless force is set, a UUID already in the
// journal is refused before anything is written.
func (p *Provisioner) Run(plan *Plan, force bool) (*Result, error) {
	p.logger.Info("using settings base",
		"device", plan.Family.Name,
		"base", fmt.Sprintf("%#x", plan.Base),
		"region", fmt.Sprintf("%#x", plan.Family.RegionSize(plan.Base)))

	if p.history != nil && !force {
		prev, err := p.history.ByUUID(plan.UUID.String())
		switch {
		case err == nil:
			return nil, fmt.Errorf("%w: %s at %s into %s (run %s)", ErrAlreadyProvisioned,
				plan.UUID, prev.Time.Format("2006-01-02 15:04:05"), prev.OutputPath, prev.ID)
		case !errors.Is(err, journal.ErrNotFound):
			return nil, fmt.Errorf("failed to check journal: %w", err)
		}
	}

	mem, img, err := plan.WriteHex()
	if err != nil {
		return nil, err
	}
	lo, hi, _ := mem.Bounds()
	for _, rec := range img.Records {
		p.logger.Debug("record placed",
			"key", rec.Key,
			"key_id", fmt.Sprintf("%#04x", rec.KeyID),
			"value_offset", rec.ValueOffset,
			"value_len", rec.ValueLen)
	}
	p.logger.Info("provisioned settings written",
		"output", plan.OutputPath,
		"merged_with", plan.InputHex,
		"hex_bytes", mem.Len(),
		"hex_range", fmt.Sprintf("%#x-%#x", lo, hi),
		"token_len", plan.TokenLen,
		"serial", plan.Serial != nil)

	result := &Result{Image: img}
	if p.history == nil {
		return result, nil
	}

	entry, err := p.history.Record(journal.Entry{
		Device:       plan.Family.Name,
		SettingsBase: plan.Base,
		UUID:         plan.UUID.String(),
		Serial:       strings.ToUpper(hex.EncodeToString(plan.Serial)),
		TokenLen:     plan.TokenLen,
		OutputPath:   plan.OutputPath,
	})
	if err != nil {
		return nil, fmt.Errorf("hex written but journal update failed: %w", err)
	}
	result.Entry = &entry
	return result, nil
}
