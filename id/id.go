// Package id provides the prefixed, K-sortable identifiers used for jobs,
// dead letter entries and worker pools.
//
// IDs are TypeIDs ("job_01h2xcejqtf2nbrexx3vqjhp41"): a type prefix plus a
// UUIDv7 suffix, so string order follows creation order. The stores rely on
// that for tie-breaking claims between jobs with equal priority and
// scheduled time.
package id

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// ErrInvalid is wrapped by every parse failure.
var ErrInvalid = errors.New("id: invalid")

// Prefix is the entity type carried in an ID.
type Prefix string

const (
	PrefixJob        Prefix = "job"
	PrefixDeadLetter Prefix = "dlq"
	PrefixWorker     Prefix = "wkr"
)

// ID is a TypeID. The zero value is the nil ID, which marshals to an empty
// string and to SQL NULL.
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	tid typeid.TypeID
	set bool
}

// JobID identifies a job.
type JobID = ID

// EntryID identifies a dead letter entry.
type EntryID = ID

// WorkerID identifies a worker pool instance.
type WorkerID = ID

// New returns a fresh ID. An invalid prefix is a programming error and
// panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}
	return ID{tid: tid, set: true}
}

func NewJobID() ID    { return New(PrefixJob) }
func NewEntryID() ID  { return New(PrefixDeadLetter) }
func NewWorkerID() ID { return New(PrefixWorker) }

// Parse parses any TypeID string.
func Parse(s string) (ID, error) {
	if s == "" {
		return ID{}, fmt.Errorf("%w: empty", ErrInvalid)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
	}
	return ID{tid: tid, set: true}, nil
}

// ParseWithPrefix parses s and rejects IDs of another entity type, so a dead
// letter ID can never be passed where a job ID is expected.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return ID{}, err
	}
	if got := parsed.Prefix(); got != want {
		return ID{}, fmt.Errorf("%w: %q has prefix %q, want %q", ErrInvalid, s, got, want)
	}
	return parsed, nil
}

func ParseJobID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixJob) }
func ParseEntryID(s string) (ID, error)  { return ParseWithPrefix(s, PrefixDeadLetter) }
func ParseWorkerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorker) }

// Compare orders IDs by their string form, which for one prefix is creation
// order. The nil ID sorts first.
func Compare(a, b ID) int {
	return strings.Compare(a.String(), b.String())
}

func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

func (i ID) IsNil() bool { return !i.set }

func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = ID{}
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value stores the nil ID as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.set {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.tid.String(), nil
}

func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = ID{}
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalid, src)
	}
}
