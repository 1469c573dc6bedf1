package transfer

import "errors"

var (
	// ErrMissingDepartment rejects a preparation without a department name
	ErrMissingDepartment = errors.New("missing department name")
	// ErrMissingCallID rejects a preparation without the voice platform's call id
	ErrMissingCallID = errors.New("missing call id")
	// ErrSessionNotFound is returned for events tagged with an unknown session
	ErrSessionNotFound = errors.New("transfer session not found")
)
