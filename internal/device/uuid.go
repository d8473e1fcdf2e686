package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// baseUUID is the Bluetooth SIG base UUID 00000000-0000-1000-8000-00805F9B34FB.
var baseUUID = uuid.UUID{
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00,
	0x80, 0x00, 0x00, 0x80, 0x5f, 0x9b, 0x34, 0xfb,
}

// ExpandUUID converts a big-endian 16, 32 or 128-bit UUID into its 128-bit form.
// Short forms are placed on top of the Bluetooth base UUID.
func ExpandUUID(b []byte) (uuid.UUID, error) {
	u := baseUUID
	switch len(b) {
	case 2:
		copy(u[2:4], b)
	case 4:
		copy(u[0:4], b)
	case 16:
		copy(u[:], b)
	default:
		return uuid.Nil, fmt.Errorf("invalid UUID length %d", len(b))
	}
	return u, nil
}

// ShortenUUID returns the 16-bit form for SIG UUIDs and the first eight hex
// digits otherwise, for display.
func ShortenUUID(u uuid.UUID) string {
	s := u.String()
	if s[8:] == baseUUID.String()[8:] && strings.HasPrefix(s, "0000") {
		return s[4:8]
	}
	return s[:8]
}
