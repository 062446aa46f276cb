// Package fingerprint derives the identity values stored in the file index.
package fingerprint

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Size is the length in characters of a fingerprint.
const Size = sha1.Size * 2

// Of returns the hex encoded SHA-1 of the relative path string itself.
// File contents never take part in it.
func Of(relPath string) string {
	sum := sha1.Sum([]byte(relPath))
	return hex.EncodeToString(sum[:])
}

// ContentDigest returns the hex encoded SHA-256 of the file's bytes.
// It is only ever shown in logs, never persisted.
func ContentDigest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
