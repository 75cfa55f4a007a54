// Package errs defines the typed error kinds the engine propagates across
// component boundaries (spec §7). Components never hand back bare strings
// or ad hoc sentinel errors for anything that crosses a component
// boundary — they wrap the underlying cause in an *Error tagged with one
// of the Kind values below, so callers can branch with errors.Is/As
// instead of string-matching.
package errs

import "fmt"

// Kind is an error KIND, not a type name (spec §7 is explicit about this
// distinction) — it is a classification callers branch on, independent of
// which Go type produced it.
type Kind string

const (
	// KindTransientTransport is retryable: backed off, retried, and
	// surfaced only after the retry budget is exhausted.
	KindTransientTransport Kind = "transient_transport"
	// KindRateLimited honours a server-advised retry-after; it must never
	// be converted into a trading decision.
	KindRateLimited Kind = "rate_limited"
	// KindAuthFailure is fatal for the session: the engine halts new
	// entries and attempts graceful flat-reconciliation.
	KindAuthFailure Kind = "auth_failure"
	// KindExchangeRejectTechnical marks a temporary exchange condition
	// (e.g. a leverage-change race). It does NOT count as a losing trade
	// and does NOT arm the per-pair cooldown.
	KindExchangeRejectTechnical Kind = "exchange_reject_technical"
	// KindExchangeRejectTerminal marks a permanent rejection (invalid
	// parameter, untradable instrument, insufficient margin). The signal
	// is dropped; no position is created.
	KindExchangeRejectTerminal Kind = "exchange_reject_terminal"
	// KindStaleData marks feed-freshness exceeded threshold. Blocks new
	// entries for the affected symbol; does not block exits.
	KindStaleData Kind = "stale_data"
	// KindInvariantViolation is internal (e.g. PnL sign conflict between
	// model and exchange). The affected position switches to HOLD, forces
	// reconciliation, and raises an operator-visible alert. It must never
	// trigger a blind emergency close on model-only disagreement.
	KindInvariantViolation Kind = "invariant_violation"
)

// Error wraps an underlying cause with a Kind and the operation that
// produced it, the way broker.go's call sites already name the failing
// call in their fmt.Errorf wraps — this just makes the kind a field
// instead of leaving it to the message text.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, &Error{Kind: K}) match any *Error sharing Kind,
// regardless of Op/Err, so callers can test for a kind without knowing
// the operation that raised it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an *Error for the given kind/operation/cause.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Of returns the Kind of err if it (or something it wraps) is an *Error,
// and ok=false otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if asError(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// asError is a tiny errors.As shim kept local to avoid importing errors
// just for this one call site's generic signature in older call sites.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
