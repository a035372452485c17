// Package ids provides the type-safe opaque identifiers used throughout BDP
// (DeviceId, PairId) and the path validation rules from the data model.
// Mirrors the teacher's internal/driveid package: small leaf types with
// normalization baked into construction, plus database/sql and
// encoding.TextMarshaler support so they drop straight into the KV store.
package ids

import (
	"crypto/rand"
	"database/sql"
	"database/sql/driver"
	"encoding"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/butterflysync/bdp/internal/bdperr"
)

// alphabet is the base62 character set used for opaque identifiers.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// DeviceIDLength is the fixed length of a DeviceID per the data model (§3).
const DeviceIDLength = 21

// PairIDLength is the fixed length of a PairID per the data model (§3).
const PairIDLength = 32

// DeviceID is a stable, opaque per-install device identifier.
type DeviceID struct{ value string }

// PairID is a stable, opaque identifier shared by both peers of a sync pair.
type PairID struct{ value string }

// NewDeviceID generates a fresh random DeviceID, 21 opaque characters.
func NewDeviceID() DeviceID {
	return DeviceID{value: randomOpaque(DeviceIDLength)}
}

// NewPairID generates a fresh random PairID, 32 opaque characters.
// Uses uuid.New() directly since a v4 UUID's hex form is exactly 32
// characters with the dashes stripped.
func NewPairID() PairID {
	return PairID{value: strings.ReplaceAll(uuid.New().String(), "-", "")}
}

// randomOpaque returns n random characters drawn from alphabet.
func randomOpaque(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails on catastrophic OS entropy failure;
		// a UUID fallback keeps identifier generation from panicking.
		return strings.ReplaceAll(uuid.New().String(), "-", "")[:n]
	}

	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}

	return string(out)
}

// ParseDeviceID validates and wraps a raw device identifier read back from
// storage or the wire.
func ParseDeviceID(raw string) (DeviceID, error) {
	if len(raw) != DeviceIDLength {
		return DeviceID{}, fmt.Errorf("ids: device id must be %d chars, got %d", DeviceIDLength, len(raw))
	}

	return DeviceID{value: raw}, nil
}

// ParsePairID validates and wraps a raw pair identifier read back from
// storage or the wire.
func ParsePairID(raw string) (PairID, error) {
	if len(raw) != PairIDLength {
		return PairID{}, fmt.Errorf("ids: pair id must be %d chars, got %d", PairIDLength, len(raw))
	}

	return PairID{value: raw}, nil
}

func (d DeviceID) String() string { return d.value }
func (p PairID) String() string   { return p.value }

func (d DeviceID) IsZero() bool { return d.value == "" }
func (p PairID) IsZero() bool   { return p.value == "" }

// MarshalText implements encoding.TextMarshaler.
func (d DeviceID) MarshalText() ([]byte, error) { return []byte(d.value), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DeviceID) UnmarshalText(text []byte) error {
	v, err := ParseDeviceID(string(text))
	if err != nil {
		return err
	}

	*d = v

	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (p PairID) MarshalText() ([]byte, error) { return []byte(p.value), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PairID) UnmarshalText(text []byte) error {
	v, err := ParsePairID(string(text))
	if err != nil {
		return err
	}

	*p = v

	return nil
}

// Scan implements sql.Scanner.
func (d *DeviceID) Scan(src any) error {
	if src == nil {
		*d = DeviceID{}
		return nil
	}

	s, err := scanString(src)
	if err != nil {
		return err
	}

	*d = DeviceID{value: s}

	return nil
}

// Value implements driver.Valuer.
func (d DeviceID) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}

	return d.value, nil
}

// Scan implements sql.Scanner.
func (p *PairID) Scan(src any) error {
	if src == nil {
		*p = PairID{}
		return nil
	}

	s, err := scanString(src)
	if err != nil {
		return err
	}

	*p = PairID{value: s}

	return nil
}

// Value implements driver.Valuer.
func (p PairID) Value() (driver.Value, error) {
	if p.IsZero() {
		return nil, nil
	}

	return p.value, nil
}

func scanString(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("ids: unsupported scan type %T", src)
	}
}

// maxPathBytes is the spec.md §3 limit on FileEntry.path length.
const maxPathBytes = 4096

// ValidatePath enforces the FileEntry.path invariants from spec.md §3:
// forward-slash relative, no leading slash, no "." or ".." segments, at
// most 4 KiB of UTF-8.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty", bdperr.ErrInvalidPath)
	}

	if len(path) > maxPathBytes {
		return fmt.Errorf("%w: exceeds %d bytes", bdperr.ErrInvalidPath, maxPathBytes)
	}

	if !utf8.ValidString(path) {
		return fmt.Errorf("%w: not valid UTF-8", bdperr.ErrInvalidPath)
	}

	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: leading slash", bdperr.ErrInvalidPath)
	}

	if strings.Contains(path, "\\") {
		return fmt.Errorf("%w: backslash not allowed", bdperr.ErrInvalidPath)
	}

	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "":
			return fmt.Errorf("%w: empty segment", bdperr.ErrInvalidPath)
		case ".", "..":
			return fmt.Errorf("%w: %q segment not allowed", bdperr.ErrInvalidPath, seg)
		}
	}

	return nil
}

// Compile-time interface assertions.
var (
	_ encoding.TextMarshaler   = DeviceID{}
	_ encoding.TextUnmarshaler = (*DeviceID)(nil)
	_ fmt.Stringer             = DeviceID{}
	_ driver.Valuer            = DeviceID{}
	_ sql.Scanner              = (*DeviceID)(nil)

	_ encoding.TextMarshaler   = PairID{}
	_ encoding.TextUnmarshaler = (*PairID)(nil)
	_ fmt.Stringer             = PairID{}
	_ driver.Valuer            = PairID{}
	_ sql.Scanner              = (*PairID)(nil)
)
