package triage

import "errors"

// Sentinel errors reported at the store and coordinator boundaries.
// All of them are per-operation and recoverable by the caller.
var (
	// ErrConflict means the alert identity already exists in the store.
	ErrConflict = errors.New("alert identity already exists")

	// ErrNotFound means no alert exists for the identity.
	ErrNotFound = errors.New("alert not found")

	// ErrInvalidMutation means the update would leave the alert with a
	// label/state combination that violates the review invariant.
	ErrInvalidMutation = errors.New("mutation violates label/state invariant")

	// ErrAlreadyClaimed means another unexpired claim exists on the alert.
	ErrAlreadyClaimed = errors.New("alert already claimed")

	// ErrNotClaimOwner means the caller's reviewer id does not match the
	// current claim holder.
	ErrNotClaimOwner = errors.New("claim held by another reviewer")

	// ErrNoActiveClaim means the operation requires an active claim and
	// none exists.
	ErrNoActiveClaim = errors.New("no active claim")

	// ErrTerminal means the alert review is finalized and accepts no
	// further claims.
	ErrTerminal = errors.New("alert review is finalized")

	// ErrNotTerminal means reopen was requested on an alert that is not
	// in a terminal state.
	ErrNotTerminal = errors.New("alert review is not finalized")
)
