// Package traceerr defines the sentinel error kinds that cross package
// boundaries in this module. Callers use errors.Is against these values
// instead of string matching.
package traceerr

import "errors"

var (
	// IoFailure means the trace file could not be opened or read. Parsing
	// aborts and this is propagated to the caller.
	IoFailure = errors.New("trace: io failure")

	// CacheMismatch means an on-disk cache's signature does not match the
	// current input file, checkpoint interval, or schema version. The
	// caller falls back to a fresh parse.
	CacheMismatch = errors.New("trace: cache signature mismatch")

	// UnparseableEffAddr means the effective-address resolver could not
	// compute an address for a load/store (missing base register value or
	// unrecognized operand syntax). Engines degrade gracefully: the
	// resolver returns (0, false) rather than this error in hot paths, but
	// it is exposed for callers that want a diagnostic.
	UnparseableEffAddr = errors.New("trace: unparseable effective address")

	// DecoderUnavailable means the optional native decoder could not
	// decode an instruction's raw encoding; the classifier falls back to
	// its mnemonic-directed predicates.
	DecoderUnavailable = errors.New("trace: decoder unavailable")

	// BudgetExceeded means a max_steps budget was exhausted before a query
	// completed. The caller receives the partial result accumulated so
	// far, never an empty failure.
	BudgetExceeded = errors.New("trace: step budget exceeded")

	// Cancelled means a cooperative cancellation token fired mid-query.
	Cancelled = errors.New("trace: cancelled")
)
