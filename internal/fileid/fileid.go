// Package fileid derives deterministic document IDs from filenames.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// idLen is the number of hex characters kept from the hash. 16 characters
// (64 bits) is short enough for URLs and logs and long enough that filename
// collisions are not a practical concern.
const idLen = 16

// ForFilename returns a stable document ID for a filename. Re-uploading a file
// with the same name yields the same ID, so the upload replaces the earlier
// version instead of duplicating it. Any directory components are stripped
// first so "a/report.pdf" and "report.pdf" map to the same document.
func ForFilename(filename string) string {
	name := filepath.Base(filepath.Clean(filename))
	hash := sha256.Sum256([]byte(name))
	return hex.EncodeToString(hash[:])[:idLen]
}
