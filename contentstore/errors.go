package contentstore

import "errors"

var (
	// ErrNoSpaceConfigured means an upload was attempted without an active
	// space session. Surfaced before any network call is made.
	ErrNoSpaceConfigured = errors.New("no content store space configured")

	// ErrLoginTimeout means the interactive login was not confirmed within
	// the wait window. The session stays unauthenticated.
	ErrLoginTimeout = errors.New("content store login timed out")
)
