package vault

import "errors"

// Precondition errors. Each names the call or argument that would have made
// the operation valid; callers can match them with errors.Is even when they
// come back wrapped with the offending name.
var (
	ErrRemotesNotLoaded = errors.New("trust party roster not loaded: RefreshRemotes required")
	ErrRootNotLoaded    = errors.New("account roster not loaded: RefreshRoot required")
	ErrNoFieldsToPatch  = errors.New("patch requires at least one field")
	ErrNotCurrentParty  = errors.New("party's private key is not held locally")
	ErrUnknownParty     = errors.New("unknown trust party")
	ErrUnknownStore     = errors.New("unknown store")
	ErrNoPublishParty   = errors.New("no publish party configured")
)
