// Package idgen mints entity identifiers and captures wall-clock time for
// auto-timestamped fields, including the epoch-millisecond mirror values
// kept alongside every datetime field.
package idgen

import (
	"crypto/rand"
	"time"
)

// entityIDAlphabet is the ambiguity-free character set used for minted
// entity IDs: no '0'/'O', '1'/'I'/'l', or other easily-confused glyphs.
const entityIDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghjmnpqrstuvwxyz"

// EntityIDLength is the length of a minted entity ID.
const EntityIDLength = 20

// NewEntityID mints a fresh opaque entity identifier from the canonical
// alphabet. It never returns an error in practice (crypto/rand failures are
// treated as fatal, matching the host process's other unrecoverable-entropy
// assumptions) but reports one in the unlikely event the system CSPRNG
// fails, rather than silently degrading ID quality.
func NewEntityID() (string, error) {
	return randomString(entityIDAlphabet, EntityIDLength)
}

// MustNewEntityID is NewEntityID, panicking on the (effectively
// unreachable) CSPRNG failure path. Convenient at call sites that already
// treat entropy failure as fatal.
func MustNewEntityID() string {
	id, err := NewEntityID()
	if err != nil {
		panic(err)
	}
	return id
}

func randomString(alphabet string, length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, length)
	n := len(alphabet)
	for i, b := range buf {
		out[i] = alphabet[int(b)%n]
	}
	return string(out), nil
}

// Clock supplies the current time. Production code uses SystemClock; tests
// inject a fixed or stepped implementation to make timestamp assertions
// deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock reports the real wall-clock time in UTC, truncated to
// millisecond resolution (the precision the stored mirror fields carry).
type SystemClock struct{}

// Now returns the current UTC time truncated to millisecond resolution.
func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// FixedClock always reports the same instant. Useful in tests.
type FixedClock struct{ At time.Time }

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.At }

// EpochMillis converts t to the epoch-millisecond integer stored in a
// datetime field's mirror (<field>_ts).
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromEpochMillis is the inverse of EpochMillis, returning a UTC time.Time.
func FromEpochMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
