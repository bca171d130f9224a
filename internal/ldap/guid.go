package ldap

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// GUIDBytesLength is the size of a binary objectGUID.
const GUIDBytesLength = 16

var hyphenatedGUIDRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// GUIDString converts an Active Directory objectGUID to the hyphenated form.
// Active Directory stores the first three groups little-endian and the last
// eight bytes big-endian.
func GUIDString(raw []byte) (string, error) {
	if s := string(raw); hyphenatedGUIDRegex.MatchString(s) {
		return strings.ToLower(s), nil
	}
	if len(raw) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(raw))
	}

	b := make([]byte, GUIDBytesLength)
	b[0], b[1], b[2], b[3] = raw[3], raw[2], raw[1], raw[0]
	b[4], b[5] = raw[5], raw[4]
	b[6], b[7] = raw[7], raw[6]
	copy(b[8:], raw[8:])

	h := hex.EncodeToString(b)
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32]), nil
}
