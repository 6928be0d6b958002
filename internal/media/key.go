// Package media resolves media references against a persistent local
// cache and the remote file-sync API, with a bounded download pool.
package media

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// pathPrefix is the scheme-like prefix every media reference in a card
// field carries; the remote API expects the bare path after it.
const pathPrefix = "data:"

// CleanPath strips the reference prefix from a raw field value.
func CleanPath(raw string) string {
	return strings.TrimPrefix(raw, pathPrefix)
}

// Key computes the stable cache key for a media path: the hex SHA-1 of
// the path plus its file extension. Extensions of 6 or more characters
// (counting the dot) are treated as malformed and dropped, so a dot
// somewhere in a long path segment cannot produce a junk suffix.
func Key(path string) string {
	ext := "." + path[strings.LastIndex(path, ".")+1:]
	if len(ext) >= 7 {
		ext = ""
	}
	sum := sha1.Sum([]byte(path))
	return hex.EncodeToString(sum[:]) + ext
}
