package feed

import (
	"crypto/rand"
	"encoding/hex"
)

// newSessionID returns a random hex session handle.
func newSessionID() string {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
