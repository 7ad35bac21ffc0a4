// Package extract recovers provisioned accessory credentials from a dump of
// the settings region.
package extract

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ssargent/fmntools/pkg/codec"
	"github.com/ssargent/fmntools/pkg/device"
	"github.com/ssargent/fmntools/pkg/flash"
	"github.com/ssargent/fmntools/pkg/metadata"
	"github.com/ssargent/fmntools/pkg/store"
)

// ErrIncomplete is returned when the UUID or the auth token is missing
var ErrIncomplete = errors.New("provisioned data does not contain a valid MFi token")

// Credentials are the fields found in the settings region. Missing fields
// are nil.
type Credentials struct {
	UUID   *uuid.UUID
	Token  []byte // Zero padding removed
	Serial []byte

	// Corrupt names the missing fields whose records failed their CRC
	Corrupt []string
}

// Complete reports ErrIncomplete unless both UUID and token are present
func (c *Credentials) Complete() error {
	if c.UUID == nil || c.Token == nil {
		return ErrIncomplete
	}
	return nil
}

// Decode scans a settings region blob that starts at base
func Decode(blob []byte, base uint32) (*Credentials, error) {
	scanner, err := store.NewScanner(blob, base)
	if err != nil {
		return nil, err
	}

	creds := &Credentials{}
	for _, field := range metadata.All() {
		value, err := scanner.Find(field.Key(), field.Len)
		if errors.Is(err, store.ErrNotFound) {
			if errors.Is(err, codec.ErrCRCMismatch) {
				creds.Corrupt = append(creds.Corrupt, field.Name)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		value = field.Unpad(value)

		switch field.ID {
		case metadata.UUID.ID:
			id, err := uuid.FromBytes(value)
			if err != nil {
				return nil, err
			}
			creds.UUID = &id
		case metadata.AuthToken.ID:
			// An all zero token has nothing left after unpadding.
			if len(value) > 0 {
				creds.Token = value
			}
		case metadata.SerialNumber.ID:
			creds.Serial = value
		}
	}
	return creds, nil
}

// Extractor reads the settings region of a device and decodes it
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates an extractor
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract reads [base, flash end) from r and decodes it
func (e *Extractor) Extract(r flash.Reader, family device.Family, base uint32) (*Credentials, error) {
	size := family.RegionSize(base)
	if size == 0 {
		return nil, fmt.Errorf("%w: settings base %#x is outside %s flash",
			store.ErrMalformedInput, base, family.Name)
	}

	e.logger.Info("looking for the provisioned data",
		"device", family.Name,
		"from", fmt.Sprintf("%#x", base),
		"to", fmt.Sprintf("%#x", base+size))

	blob, err := r.Read(base, int(size))
	if err != nil {
		return nil, fmt.Errorf("failed to read settings region: %w", err)
	}

	scanner, err := store.NewScanner(blob, base)
	if err != nil {
		return nil, err
	}
	for _, s := range scanner.Sectors() {
		e.logger.Debug("settings sector",
			"address", fmt.Sprintf("%#x", s.Address),
			"state", s.State.String(),
			"ates", s.ATEs,
			"valid", s.Valid)
	}

	creds, err := Decode(blob, base)
	if err != nil {
		return nil, err
	}
	if len(creds.Corrupt) > 0 {
		e.logger.Warn("settings records failed their CRC", "fields", creds.Corrupt)
	}
	return creds, nil
}

// Report is the printable form of Credentials
type Report struct {
	UUID     string   `json:"uuid,omitempty"`
	Token    string   `json:"token,omitempty"`
	Serial   string   `json:"serial_number,omitempty"`
	Corrupt  []string `json:"corrupt,omitempty"`
	Complete bool     `json:"complete"`
}

// Report renders the credentials: UUID in 8-4-4-4-12 form, token as base64
// and serial number as uppercase hex
func (c *Credentials) Report() Report {
	r := Report{Complete: c.Complete() == nil, Corrupt: c.Corrupt}
	if c.UUID != nil {
		r.UUID = c.UUID.String()
	}
	if c.Token != nil {
		r.Token = base64.StdEncoding.EncodeToString(c.Token)
	}
	if c.Serial != nil {
		r.Serial = strings.ToUpper(hex.EncodeToString(c.Serial))
	}
	return r
}

// NotFound is printed in place of a missing field
const NotFound = "not found in the provisioned data"

// Lines returns the human readable report, one field per line
func (r Report) Lines() []string {
	show := func(v string) string {
		if v == "" {
			return NotFound
		}
		return v
	}
	return []string{
		"SW Authentication UUID: " + show(r.UUID),
		"SW Authentication Token: " + show(r.Token),
		"Serial Number: " + show(r.Serial),
	}
}
