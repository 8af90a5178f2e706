package panel

import "errors"

var (
	// ErrAuthentication means the panel rejected the login.
	ErrAuthentication = errors.New("panel authentication failed")
	// ErrNetwork means the panel could not be reached (refused, timeout, reset).
	ErrNetwork = errors.New("panel unreachable")
	// ErrRejected means the panel answered but reported failure.
	ErrRejected = errors.New("panel rejected the request")
	// ErrUnparsable means a required field was absent from the panel response.
	ErrUnparsable = errors.New("panel response could not be parsed")
	// ErrInvalidRequest means the arguments were rejected before any HTTP call.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrOwnerScopeUnsupported means the listing has no owner column to filter on.
	ErrOwnerScopeUnsupported = errors.New("panel listing has no owner column")
)
