package core

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// -----------------------------------------------------------------------------
// ID
// -----------------------------------------------------------------------------

// ID identifies a single engine run. IDs are KSUIDs, so they sort by
// creation time.
type ID string

func (i ID) String() string {
	return string(i)
}

func (i ID) IsZero() bool {
	return i == ""
}

func NewID() (ID, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate ID: %w", err)
	}
	return ID(id.String()), nil
}

// MustNewID panics when the system entropy source is unavailable, which is
// the only way KSUID generation can fail.
func MustNewID() ID {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}

func ParseID(s string) (ID, error) {
	if s == "" {
		return "", fmt.Errorf("empty ID")
	}
	if _, err := ksuid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid ID format: %w", err)
	}
	return ID(s), nil
}
