// Package util holds small helpers shared across npamcp packages.
package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// RequestDigest derives the cache key for a request from its verb, path and
// body. The fields are NUL-separated so distinct triples never collide by
// concatenation.
func RequestDigest(method, path string, body []byte) string {
	hasher := sha256.New()
	hasher.Write([]byte(strings.ToUpper(method)))
	hasher.Write([]byte{0})
	hasher.Write([]byte(path))
	hasher.Write([]byte{0})
	hasher.Write(body)
	return hex.EncodeToString(hasher.Sum(nil))
}

// ShortID returns the first 16 hex characters of a digest, for log lines.
func ShortID(digest string) string {
	if len(digest) <= 16 {
		return digest
	}
	return digest[:16]
}
