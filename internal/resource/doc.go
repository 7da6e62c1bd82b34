// Package resource provides the shared types exchanged between the backing
// store, the search index and the index maintenance components.
//
// This package contains type definitions and URI helpers only. All other
// internal packages import resource; resource imports nothing internal.
//
// Key design constraints:
//   - URIs are absolute, NFC-normalised and compared byte-wise everywhere
//   - IDs are assigned by the backing store and never reused
//   - Expected lookup outcomes (absent, unmappable) are values, not errors
package resource
