// Package journal keeps a local record of provisioning runs so that a
// token UUID is not written to two accessories by accident.
package journal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
	"github.com/segmentio/ksuid"
)

const (
	runPrefix  = "run/"
	uuidPrefix = "uuid/"
)

// ErrNotFound is returned when no run matches
var ErrNotFound = errors.New("journal entry not found")

// Entry describes one provisioning run
type Entry struct {
	ID           string    `cbor:"1,keyasint"`
	Time         time.Time `cbor:"2,keyasint"`
	Device       string    `cbor:"3,keyasint"`
	SettingsBase uint32    `cbor:"4,keyasint"`
	UUID         string    `cbor:"5,keyasint"`
	Serial       string    `cbor:"6,keyasint,omitempty"`
	TokenLen     int       `cbor:"7,keyasint"`
	OutputPath   string    `cbor:"8,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create journal CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create journal CBOR decoder mode: %v", err))
	}
}

// Journal is a pebble backed log of provisioning runs
type Journal struct {
	db *pebble.DB
}

// Open opens or creates the journal in dir
func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record stores a run and returns it with its assigned ID and time
func (j *Journal) Record(e Entry) (Entry, error) {
	id := ksuid.New()
	e.ID = id.String()
	e.Time = id.Time().UTC()
	e.UUID = normalizeUUID(e.UUID)

	data, err := encMode.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to encode journal entry: %w", err)
	}

	batch := j.db.NewBatch()
	defer batch.Close()
	if err := batch.Set([]byte(runPrefix+e.ID), data, nil); err != nil {
		return Entry{}, err
	}
	if err := batch.Set([]byte(uuidPrefix+e.UUID), []byte(e.ID), nil); err != nil {
		return Entry{}, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return Entry{}, fmt.Errorf("failed to write journal entry: %w", err)
	}
	return e, nil
}

// Get returns the run with the given ID
func (j *Journal) Get(id string) (*Entry, error) {
	if _, err := ksuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid journal id %q: %w", id, err)
	}
	data, closer, err := j.db.Get([]byte(runPrefix + id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return decode(data)
}

// ByUUID returns the latest run that provisioned uuid
func (j *Journal) ByUUID(uuid string) (*Entry, error) {
	key := uuidPrefix + normalizeUUID(uuid)
	id, closer, err := j.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}
	if err != nil {
		return nil, err
	}
	runID := string(id)
	closer.Close()

	return j.Get(runID)
}

// List returns every run, oldest first
func (j *Journal) List() ([]Entry, error) {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(runPrefix),
		UpperBound: []byte(prefixEnd(runPrefix)),
	})
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		e, err := decode(iter.Value())
		if err != nil {
			_ = iter.Close()
			return nil, fmt.Errorf("journal entry %s: %w", iter.Key(), err)
		}
		entries = append(entries, *e)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Close closes the journal
func (j *Journal) Close() error {
	return j.db.Close()
}

func decode(data []byte) (*Entry, error) {
	var e Entry
	if err := decMode.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode journal entry: %w", err)
	}
	return &e, nil
}

func normalizeUUID(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "-", ""))
}

// prefixEnd returns the smallest key greater than every key with prefix
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	b[len(b)-1]++
	return string(b)
}
