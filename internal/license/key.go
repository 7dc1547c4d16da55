package license

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// KeyLen is the length of an issued license key.
const KeyLen = 20

func NewKey() (string, error) {
	// 10 bytes => 20 hex chars
	b := make([]byte, KeyLen/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// MaskKey keeps the first and last four characters of a key for log output.
func MaskKey(k string) string {
	if len(k) <= 8 {
		return "****"
	}
	return k[:4] + "****" + k[len(k)-4:]
}
