// Package docid derives stable document IDs.
package docid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const filePrefix = "doc:"

// FromPath returns a stable document ID for the given absolute path.
// The same path always yields the same ID, so re-indexing a file updates
// the same document (and overwrites its chunks) instead of duplicating it.
func FromPath(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return filePrefix + hex.EncodeToString(hash[:16])
}
