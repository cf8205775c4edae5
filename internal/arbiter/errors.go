package arbiter

import "errors"

// ErrInvariantViolation marks an internal invariant breach, as reported by
// Arbiter.CheckInvariants: ContInvalid above the master's configured ceiling,
// or a window fill beyond WindowSize. FSM states are not inspected. This
// is fatal: the caller should abort the process with a diagnostic rather
// than attempt recovery.
var ErrInvariantViolation = errors.New("arbiter: internal invariant violation")
