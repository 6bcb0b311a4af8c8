package tokenledger

import "errors"

var (
	// ErrNotFound is returned when a token id is unknown.
	ErrNotFound = errors.New("token not found")

	// ErrDanglingParent rejects a mint that references a nonexistent parent.
	// The provenance DAG never contains forward or broken edges.
	ErrDanglingParent = errors.New("parent token does not exist")
)
