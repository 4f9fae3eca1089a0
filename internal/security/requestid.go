package security

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

// Request ID constraints for IDs supplied by clients in X-Request-ID.
const (
	MinRequestIDLength = 8
	MaxRequestIDLength = 64
)

var validRequestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// GenerateRequestID creates a random 96-bit request ID.
func GenerateRequestID() (string, error) {
	bytes := make([]byte, 12)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// ValidRequestID reports whether a client-supplied request ID is safe to log
// and echo back.
func ValidRequestID(id string) bool {
	if len(id) < MinRequestIDLength || len(id) > MaxRequestIDLength {
		return false
	}
	return validRequestIDPattern.MatchString(id)
}
