package resource

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// RootURI is the URI of the repository root collection.
const RootURI = "/"

// ErrInvalidURI is returned for URIs that cannot identify a resource.
var ErrInvalidURI = errors.New("invalid uri")

// NormalizeURI returns the canonical form of uri.
//
// Canonical URIs are absolute, NFC-normalised, free of "." and ".." segments,
// and have no trailing slash (except the root). Canonicalisation happens at
// the store and index boundaries so both sides compare byte-identical keys.
func NormalizeURI(uri string) (string, error) {
	if uri == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURI)
	}
	if !strings.HasPrefix(uri, "/") {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidURI, uri)
	}
	if strings.ContainsRune(uri, 0) {
		return "", fmt.Errorf("%w: %q contains NUL", ErrInvalidURI, uri)
	}
	cleaned := path.Clean(norm.NFC.String(uri))
	return cleaned, nil
}

// ParentURI returns the parent of uri, or "" for the root.
func ParentURI(uri string) string {
	if uri == RootURI || uri == "" {
		return ""
	}
	return path.Dir(uri)
}
