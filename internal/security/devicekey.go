package security

import (
	"crypto/sha256"
	"fmt"
)

// DeviceKeySize is the length of the record key in bytes.
const DeviceKeySize = sha256.Size

// DeviceKey derives the activation record key K = SHA-256(device secret).
func DeviceKey(p Platform) ([]byte, error) {
	secret, err := p.DeviceSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to read device secret: %w", err)
	}
	if secret == "" {
		return nil, fmt.Errorf("device secret is empty")
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:], nil
}
