// Package storage abstracts where task media lives. The dispatcher fetches
// inputs into the task workspace and stores outputs back through a Gateway;
// everything behind the interface (object store, local directory) is opaque
// to the core.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a reference does not resolve.
	ErrNotFound = errors.New("storage: object not found")

	// ErrTooLarge is returned when an input exceeds the configured size
	// limit. Oversized inputs are a caller problem, never retried.
	ErrTooLarge = errors.New("storage: input exceeds size limit")

	// ErrBadRef is returned for references that escape the gateway root.
	ErrBadRef = errors.New("storage: invalid object reference")
)

// Gateway moves media between storage and the local workspace. No retries
// happen inside: the dispatcher classifies failures and owns the retry
// policy.
type Gateway interface {
	// Fetch materializes the referenced object at localPath.
	Fetch(ctx context.Context, ref, localPath string) error

	// Store persists the local file under a reference derived from hint and
	// returns it.
	Store(ctx context.Context, localPath, hint string) (string, error)

	// DownloadURL renders a caller-usable URL for a stored reference.
	DownloadURL(ctx context.Context, ref string) (string, error)
}
