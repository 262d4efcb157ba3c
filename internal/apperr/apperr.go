// Package apperr defines the fatal-error contract of SPEC_FULL.md's AMBIENT
// STACK error-handling section: conditions that break an identity or
// conservation invariant are wrapped in FatalError and must terminate the
// process with a specific exit code, caught once at main rather than
// handled locally.
//
// Grounded on svyatogor45-abitrage's internal/exchange/interface.go
// (ExchangeError, an error struct carrying an Original error and an
// Unwrap() method for errors.Is/errors.As), generalised from a per-exchange
// error wrapper into the core's process-fatal wrapper.
package apperr

import "fmt"

// ExitCode enumerates the fatal exit codes named in spec §6: "non-zero on
// fatal invariant violation, on registry overflow, or on unrecoverable
// venue error during forced hedge."
type ExitCode int

const (
	// ExitOK is a clean shutdown (SIGINT/SIGTERM), never produced by FatalError.
	ExitOK ExitCode = 0
	// ExitInvariantViolation is the portfolio capital-conservation check failing (spec §4.7/§7).
	ExitInvariantViolation ExitCode = 1
	// ExitRegistryOverflow is the symbol registry reaching capacity (spec §4.1/§7).
	ExitRegistryOverflow ExitCode = 2
	// ExitHedgeUnrecoverable is a hedge retry exhausted with the position still stuck (spec §4.5/§7).
	ExitHedgeUnrecoverable ExitCode = 3
)

// FatalError marks an error that must stop the process rather than be
// handled locally: identity/conservation invariant violations and the
// fatal conditions of spec §7's error table. It is caught exactly once, at
// main, and turned into os.Exit(Code) after a best-effort flush of the
// persistence writer — never a bare panic() in hot-path code.
type FatalError struct {
	Code     ExitCode
	Original error
}

// New wraps err as a FatalError with the given exit code.
func New(code ExitCode, err error) *FatalError {
	return &FatalError{Code: code, Original: err}
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal (exit %d): %v", e.Code, e.Original)
}

// Unwrap supports errors.Is/errors.As against the wrapped condition (e.g.
// *portfolio.ErrInvariantViolation, registry.ErrRegistryFull).
func (e *FatalError) Unwrap() error {
	return e.Original
}
