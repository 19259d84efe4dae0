// Package identity implements the deterministic identity scheme:
// vector point IDs, content hashes, and sidecar file paths.
//
// All functions are pure; none perform I/O.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Namespace is the fixed v5 UUID namespace for point IDs. It is part
// of the on-disk compatibility contract: changing it orphans every
// existing point and requires a full reindex.
var Namespace = uuid.MustParse("c35f9b2f-0ff6-4bd4-a51b-1f8ba2a713d7")

// SidecarSuffix is the filename suffix for metadata sidecar files.
const SidecarSuffix = ".meta.json"

// ContentHash returns the lowercase hex SHA-256 of the UTF-8 bytes of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// keyPath converts a path into the canonical point-ID key form:
// forward slashes, lowercased. Backslashes are rewritten on every
// platform so IDs computed on Windows and Unix agree.
func keyPath(path string) string {
	return strings.ToLower(strings.ReplaceAll(filepath.ToSlash(path), `\`, "/"))
}

// PointID returns the v5 UUID for chunk i of path. IDs are a pure
// function of the normalized path and index: re-indexing the same path
// always writes to the same IDs regardless of the input's case or
// separator style.
func PointID(path string, chunk int) string {
	key := fmt.Sprintf("%s#%d", keyPath(path), chunk)
	return uuid.NewSHA1(Namespace, []byte(key)).String()
}

// NormalizePath converts a path into the canonical sidecar key form:
// lowercased, forward slashes, and the ':' after a leading
// single-letter drive prefix dropped ("C:/x" and "c/x" collide on
// purpose so the same file maps to one sidecar across platforms).
func NormalizePath(path string) string {
	p := keyPath(path)
	if len(p) >= 2 && p[1] == ':' && isASCIILetter(p[0]) {
		p = p[:1] + p[2:]
	}
	return p
}

// SidecarPath returns the sidecar file path for path under dir:
// <dir>/<hex-sha256(normalized path)>.meta.json.
func SidecarPath(path, dir string) string {
	sum := sha256.Sum256([]byte(NormalizePath(path)))
	return filepath.Join(dir, hex.EncodeToString(sum[:])+SidecarSuffix)
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
