package ldap

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/go-objectsid"
)

// SIDString converts a binary Active Directory objectSid to its S-1-5-...
// form. Values that already look like a SID string are returned unchanged,
// which is what non-AD directories and test fixtures hand back.
func SIDString(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("binary SID cannot be empty")
	}
	if s := string(raw); strings.HasPrefix(s, "S-") {
		return s, nil
	}
	// Revision byte, sub-authority count, 6-byte authority, 4 bytes per sub-authority.
	if len(raw) < 8 || len(raw) != 8+4*int(raw[1]) {
		return "", fmt.Errorf("invalid binary SID length %d", len(raw))
	}

	return objectsid.Decode(raw).String(), nil
}
