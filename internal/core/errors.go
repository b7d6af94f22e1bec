package core

import "errors"

// Sentinel errors for startup failures the operator must act on. Wrap them
// with context; callers match with errors.Is.
var (
	// ErrConfiguration means a required setting is missing or malformed.
	ErrConfiguration = errors.New("configuration error")
	// ErrAuthentication means the platform rejected the credentials.
	ErrAuthentication = errors.New("authentication failed")
	// ErrPrivilege means the account lacks the staff powers the actor needs.
	ErrPrivilege = errors.New("insufficient privilege")
)
