// Package errs defines the error taxonomy every subsystem boundary
// converts unexpected faults into, so callers can classify a failure with
// errors.Is instead of parsing strings.
package errs

import "errors"

// Sentinel errors forming the error taxonomy every package classifies against.
// Call sites
// wrap these with fmt.Errorf("...: %w", ErrX) to preserve classification
// while attaching context.
var (
	// ErrTransient marks broker REST 5xx/timeout, stream read errors, and
	// LLM timeouts. Policy: log and continue, the next tick retries.
	ErrTransient = errors.New("transient I/O failure")

	// ErrLogicalReject marks a safety-check failure, validator rejection,
	// commander veto, or insufficient balance. Policy: surface as a
	// structured rejection, never raise.
	ErrLogicalReject = errors.New("logical reject")

	// ErrDataInconsistency marks an unknown symbol, an execution notice for
	// a missing order, or a frame for an unsubscribed symbol. Policy: log
	// at warn, drop silently, no state mutation.
	ErrDataInconsistency = errors.New("data inconsistency")

	// ErrPrecondition marks an operation attempted in an invalid state,
	// e.g. subscribing on a closed connection or executing while the
	// circuit breaker is active. Policy: refuse, no state change.
	ErrPrecondition = errors.New("precondition violation")

	// ErrFatal marks a startup-only fault: persistence unreachable, or
	// broker auth failing for 10+ attempts. Policy: exit non-zero.
	ErrFatal = errors.New("fatal error")
)
