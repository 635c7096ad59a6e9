package event

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// MAC is a 48-bit IEEE 802 hardware address.
type MAC [6]byte

// ParseMAC parses colon or dash separated hex, in either case.
func ParseMAC(s string) (MAC, error) {
	var m MAC
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != 12 {
		return m, fmt.Errorf("invalid MAC address %q", s)
	}
	if _, err := hex.Decode(m[:], []byte(clean)); err != nil {
		return m, fmt.Errorf("invalid MAC address %q: %w", s, err)
	}
	return m, nil
}

// MustParseMAC is like ParseMAC but panics on error. Intended for tests and
// constant tables.
func MustParseMAC(s string) MAC {
	m, err := ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

// String formats the address as upper-case colon separated hex, the form
// stored in the events table.
func (m MAC) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsZero reports whether the address is all zeros.
func (m MAC) IsZero() bool {
	return m == MAC{}
}

func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MAC) UnmarshalText(b []byte) error {
	parsed, err := ParseMAC(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
