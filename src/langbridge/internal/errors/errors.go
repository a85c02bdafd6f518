package errors

import stderr "errors"

// New returns an error that formats as the given text.
// Each call to New returns a distinct error value even if the text is identical.
func New(msg string) error {
	return stderr.New(msg)
}

// ErrCanceled resolves a pending backend call whose caller gave up waiting.
// It is a signal, not a fault: the backend may still finish the work.
var ErrCanceled = New("call canceled by caller")

// IsCanceled reports whether the error chain resolves to a caller cancellation.
func IsCanceled(e error) bool {
	return stderr.Is(e, ErrCanceled)
}
