package types

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RunID string
type SessionID string
type AdvisoryID string

// PartitionLayout is the date format of an artifact partition key.
const PartitionLayout = "2006-01-02"

// NewRunID returns a time-ordered (UUIDv7) run identifier. The embedded
// millisecond timestamp fixes the artifact's creation time and partition.
func NewRunID() RunID {
	return RunID(uuid.Must(uuid.NewV7()).String())
}

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewAdvisoryID() AdvisoryID {
	return AdvisoryID(uuid.Must(uuid.NewV7()).String())
}

// Time returns the creation instant encoded in a v7 run ID.
func (id RunID) Time() (time.Time, error) {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse run id %q: %w", id, err)
	}
	if u.Version() != 7 {
		return time.Time{}, fmt.Errorf("run id %q: expected uuid v7, got v%d", id, u.Version())
	}
	var buf [8]byte
	copy(buf[2:], u[:6])
	ms := int64(binary.BigEndian.Uint64(buf[:]))
	return time.UnixMilli(ms).UTC(), nil
}

// Partition returns the day partition key (YYYY-MM-DD, UTC) for the run ID.
func (id RunID) Partition() (string, error) {
	t, err := id.Time()
	if err != nil {
		return "", err
	}
	return t.Format(PartitionLayout), nil
}

// Valid reports whether id is a canonical v7 run identifier.
func (id RunID) Valid() bool {
	u, err := uuid.Parse(string(id))
	return err == nil && u.Version() == 7 && u.String() == string(id)
}
