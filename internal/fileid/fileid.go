// Package fileid provides deterministic passage IDs derived from where a passage came from.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
)

const prefix = "passage:"

// PassageID returns a stable ID for the passage at position index of source within collection.
// The same inputs always yield the same ID, so rebuilding a collection reuses IDs.
func PassageID(collection, source string, index int) string {
	h := sha256.New()
	h.Write([]byte(collection))
	h.Write([]byte{0})
	h.Write([]byte(filepath.Clean(source)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(index)))
	return prefix + hex.EncodeToString(h.Sum(nil))
}
