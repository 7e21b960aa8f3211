package assets

import (
	"path"
	"strings"
)

// keySep joins path and digest in a remote key. Hex digests never contain
// it, so splitting on the last separator is unambiguous even when the path
// itself contains one.
const keySep = "#"

// RemoteKey derives the content-addressed storage key for a path and digest.
// A path whose content changes maps to a new key, so existing remote values
// are never overwritten in place.
func RemoteKey(path, digest string) string {
	return path + keySep + digest
}

// SplitRemoteKey splits a remote key into its path and digest parts.
func SplitRemoteKey(key string) (path, digest string, ok bool) {
	i := strings.LastIndex(key, keySep)
	if i < 0 {
		return "", "", false
	}
	path, digest = key[:i], key[i+1:]
	if path == "" || !IsDigest(digest) {
		return "", "", false
	}
	return path, digest, true
}

// NormPath normalizes p to a slash-separated path relative to the asset
// root: backslashes become slashes, dot segments collapse and any leading
// slash is stripped. An empty or root path normalizes to "".
func NormPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	if p == "." || p == "/" {
		return ""
	}
	return strings.TrimLeft(p, "/")
}
