package triage

import (
	"context"
	"iter"

	"github.com/linnemanlabs/hyperstream/internal/alert"
)

// Filter selects alerts in Query. Zero-value fields match everything.
type Filter struct {
	SensorID    string
	TSFrom      *int64 // inclusive
	TSTo        *int64 // inclusive
	SeverityMin *float64
	ReviewState alert.ReviewState
}

// Match reports whether a satisfies the filter.
func (f Filter) Match(a *alert.Alert) bool {
	if f.SensorID != "" && a.SensorID != f.SensorID {
		return false
	}
	if f.TSFrom != nil && a.TS < *f.TSFrom {
		return false
	}
	if f.TSTo != nil && a.TS > *f.TSTo {
		return false
	}
	if f.SeverityMin != nil && a.Severity < *f.SeverityMin {
		return false
	}
	if f.ReviewState != "" && a.ReviewState != f.ReviewState {
		return false
	}
	return true
}

// Mutation is a partial update of an alert's review fields. Zero-value
// ReviewState leaves the state unchanged; a nil Label leaves the label
// unchanged.
type Mutation struct {
	ReviewState alert.ReviewState
	Label       *string
}

// Apply mutates a in place, enforcing the review invariant: the label is
// non-empty iff the resulting state is labeled. It either fully applies or
// leaves a untouched.
func (m Mutation) Apply(a *alert.Alert) error {
	state := a.ReviewState
	if m.ReviewState != "" {
		if !m.ReviewState.Valid() {
			return ErrInvalidMutation
		}
		state = m.ReviewState
	}
	label := a.Label
	if m.Label != nil {
		label = *m.Label
	}
	if (state == alert.StateLabeled) != (label != "") {
		return ErrInvalidMutation
	}
	a.ReviewState = state
	a.Label = label
	return nil
}

// Store is the persistence interface for alerts. Implementations must be
// safe for concurrent use; Update applies atomically so no caller ever
// observes a half-applied label/state transition.
type Store interface {
	// Put inserts the alert, failing with ErrConflict if the identity
	// already exists. Callers mutate existing alerts through Update.
	Put(ctx context.Context, a *alert.Alert) error

	// Get retrieves an alert by identity. Returns a copy.
	Get(ctx context.Context, id alert.Identity) (*alert.Alert, bool, error)

	// Query returns matching alerts ordered by ts ascending within a
	// sensor. Each range over the sequence re-executes the query.
	Query(ctx context.Context, f Filter) iter.Seq2[*alert.Alert, error]

	// Update atomically applies the mutation and returns the updated
	// alert, or ErrNotFound / ErrInvalidMutation.
	Update(ctx context.Context, id alert.Identity, m Mutation) (*alert.Alert, error)
}
