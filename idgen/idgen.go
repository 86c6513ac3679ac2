// Package idgen generates the identifiers shadowtap attaches to recordings,
// snapshots and stored events. Everything defaults to UUIDv7 so ids sort by
// creation time in the event store.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator producing RFC 9562 version 7 UUIDs.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every id produced by gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is used by New.
var Default Generator = UUIDv7()

// New produces an id with Default.
func New() string {
	return Default()
}

// Session returns a recording session id ("rec_" + UUIDv7).
func Session() string {
	return "rec_" + Default()
}

// Parse validates a UUID string and returns its canonical form.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid uuid %q: %w", s, err)
	}
	return u.String(), nil
}

// Time returns the creation time embedded in a UUIDv7, as epoch
// milliseconds. Other versions report an error.
func Time(s string) (int64, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("idgen: invalid uuid %q: %w", s, err)
	}
	if u.Version() != 7 {
		return 0, fmt.Errorf("idgen: %q is version %d, not 7", s, u.Version())
	}
	sec, nsec := u.Time().UnixTime()
	return sec*1000 + nsec/1_000_000, nil
}
