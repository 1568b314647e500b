package main

import (
	"fmt"
	"strings"
)

// destinationFingerprint returns a short stable fingerprint for a
// destination id so logs and history rows never carry raw contact
// identifiers.
func destinationFingerprint(destinationID string) string {
	destinationID = strings.TrimSpace(destinationID)
	if destinationID == "" {
		return ""
	}
	sum := sha256Sum([]byte(destinationID))
	return fmt.Sprintf("%x", sum[:8])
}
