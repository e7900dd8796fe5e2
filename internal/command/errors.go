package command

import "fmt"

// Every user-visible error collapses to a single NOTICE line, never an
// internal stack or Go error string. These types exist so Dispatch can
// tell the difference between "tell the caller" and "log and abort
// silently" without string-matching error text.

// ParseError covers bad command arguments, timestamps, IPs, or CIDRs.
type ParseError struct{ Msg string }

func (e ParseError) Error() string { return e.Msg }

// NotFoundError covers an unknown kline id, cliconn id, or preference.
type NotFoundError struct{ Msg string }

func (e NotFoundError) Error() string { return e.Msg }

// PermissionDeniedError is returned by a handler when the server itself
// denied a privileged query; these degrade silently rather than produce a
// NOTICE, so Dispatch never surfaces one.
type PermissionDeniedError struct{ Msg string }

func (e PermissionDeniedError) Error() string { return e.Msg }

// StoreError wraps a SQL failure. Only `eval` returns one, and Dispatch
// surfaces it to the caller with its textual message; other handlers
// return plain wrapped store errors, which abort the handler and are
// logged, not shown.
type StoreError struct{ Err error }

func (e StoreError) Error() string { return fmt.Sprintf("store error: %v", e.Err) }
func (e StoreError) Unwrap() error { return e.Err }

func parseErrorf(format string, args ...any) error {
	return ParseError{Msg: fmt.Sprintf(format, args...)}
}

func notFoundErrorf(format string, args ...any) error {
	return NotFoundError{Msg: fmt.Sprintf(format, args...)}
}
