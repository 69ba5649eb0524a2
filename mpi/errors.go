package mpi

import (
	"errors"
	"fmt"
)

// Errors returned by the topology, ownership and collective routines.
var (
	// ErrCommunicationUnavailable is returned when a collective or
	// point-to-point operation is attempted on a backend without a real
	// communication substrate (the Serial backend). Pure queries keep
	// working; data movement never silently degrades.
	ErrCommunicationUnavailable = errors.New("communication substrate unavailable")

	// ErrCommunicationFailure is returned when the substrate reports an
	// error mid-call, for example a malformed or oversized receive.
	ErrCommunicationFailure = errors.New("communication failure")

	// ErrSizeMismatch is returned by Scatter and ScatterSlices when the
	// number of values on the sending process does not equal the number
	// of processes.
	ErrSizeMismatch = errors.New("number of values to scatter must be equal to the number of processes")

	// ErrIndexOutOfRange is returned by IndexOwner when the queried index
	// is not inside the global index space.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// TagExists is an error type indicating the tag already has a concurrent
// request between the destination and source process.
type TagExists struct {
	Tag int
}

func (t TagExists) Error() string {
	return fmt.Sprintf("Tag %v already in use sending", t.Tag)
}
