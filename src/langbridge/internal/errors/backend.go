package errors

import (
	"fmt"
)

// ResolutionError reports that a backend runtime or bundle could not be
// located. Sessions failing resolution never reach the launched state.
type ResolutionError struct {
	Family string
	Reason string
}

// Error is an implementation of the error interface.
func (r *ResolutionError) Error() string {
	return fmt.Sprintf("resolving backend for family %q: %s", r.Family, r.Reason)
}

// BackendUnavailableError resolves every pending call against a backend whose
// process exited or whose stream closed. No response for its sequence numbers
// will ever arrive.
type BackendUnavailableError struct {
	Command string
	Seq     int64
}

// Error is an implementation of the error interface.
func (b *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable, command %q (seq %d) will never be answered", b.Command, b.Seq)
}

// CorrelationAnomaly reports a backend response naming a sequence number with
// no matching pending request. Logged and counted, never fatal.
type CorrelationAnomaly struct {
	Command string
	Seq     int64
}

// Error is an implementation of the error interface.
func (c *CorrelationAnomaly) Error() string {
	return fmt.Sprintf("no pending request for response %q (seq %d)", c.Command, c.Seq)
}

// BackendCallError carries a failure reported by the backend for one call.
type BackendCallError struct {
	Command string
	Message string
}

// Error is an implementation of the error interface.
func (b *BackendCallError) Error() string {
	return fmt.Sprintf("backend command %q failed: %s", b.Command, b.Message)
}
