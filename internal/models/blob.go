package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// BlobID returns the content address of data: hex encoded SHA-256.
func BlobID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
