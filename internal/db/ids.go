package db

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"discussd/internal/constants"
)

// GenerateID mints an entity id of the form prefix + "_" + random hex.
// Server prefixes (msg, rpl) stay disjoint from the client-reserved
// "pending-" namespace, so an optimistic placeholder id can never collide
// with a confirmed one.
func GenerateID(prefix string) (string, error) {
	b := make([]byte, constants.IDRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}
