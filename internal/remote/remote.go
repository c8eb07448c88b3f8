// Package remote syncs a change graph with an OCI registry.
//
// Change records are packed into zstd-compressed image layers grouped by
// digest prefix; the image config labels carry the registry index digest and
// the per-prefix layer table, so pushes and pulls only move the prefix
// groups that changed.
package remote

import "context"

// Remote handles registry operations for a packed change graph.
type Remote interface {
	// Push uploads objects, reusing layers for unchanged prefixes.
	Push(ctx context.Context, indexDigest string, objects map[string][]byte, localPrefixes map[string]PrefixInfo) (map[string]PrefixInfo, error)

	// Pull downloads the layers whose prefixes differ from localPrefixes.
	Pull(ctx context.Context, localPrefixes map[string]PrefixInfo) (indexDigest string, objects map[string][]byte, prefixes map[string]PrefixInfo, err error)
}

// Authenticator provides credentials for registry operations.
type Authenticator interface {
	// Authenticate returns credentials for the given registry.
	Authenticate(registry string) (username, password string, err error)
}
