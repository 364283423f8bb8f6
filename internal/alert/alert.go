// Package alert defines the canonical alert record, its identity, and the
// validation rules applied at ingestion.
package alert

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ReviewState tracks where an alert is in the human review lifecycle.
type ReviewState string

const (
	// StateOpen means ingested, awaiting review.
	StateOpen ReviewState = "open"

	// StateClaimed means a reviewer holds an active claim.
	StateClaimed ReviewState = "claimed"

	// StateLabeled means a reviewer applied a label.
	StateLabeled ReviewState = "labeled"

	// StateDismissed means a reviewer dismissed the alert.
	StateDismissed ReviewState = "dismissed"
)

// Valid reports whether s is a known review state.
func (s ReviewState) Valid() bool {
	switch s {
	case StateOpen, StateClaimed, StateLabeled, StateDismissed:
		return true
	}
	return false
}

// Terminal reports whether s accepts no further claims.
// Only an explicit reopen leaves a terminal state.
func (s ReviewState) Terminal() bool {
	return s == StateLabeled || s == StateDismissed
}

// Severity bounds enforced at ingestion. Values outside are clamped,
// with the original retained under details["raw_severity"].
const (
	SeverityMin = 0.0
	SeverityMax = 5.0
)

// RawSeverityKey is the details key holding the pre-clamp severity.
const RawSeverityKey = "raw_severity"

// Identity uniquely identifies an alert by sensor and timestamp.
type Identity struct {
	SensorID string
	TS       int64
}

func (id Identity) String() string {
	return fmt.Sprintf("%s@%d", id.SensorID, id.TS)
}

// Alert is a single reported anomaly from a sensor at a point in time.
// Label is non-empty iff ReviewState is StateLabeled.
type Alert struct {
	SensorID    string         `json:"sensor_id"`
	TS          int64          `json:"ts"`
	Severity    float64        `json:"severity"`
	Label       string         `json:"label,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	ReviewState ReviewState    `json:"review_state"`
	IngestedAt  time.Time      `json:"ingested_at,omitzero"`
}

// Identity returns the (sensor_id, ts) pair identifying this alert.
func (a *Alert) Identity() Identity {
	return Identity{SensorID: a.SensorID, TS: a.TS}
}

// Clone returns a deep copy safe to hand across goroutines.
func (a *Alert) Clone() *Alert {
	cp := *a
	cp.Details = cloneDetails(a.Details)
	return &cp
}

// Input is the wire shape of an alert prior to validation.
type Input struct {
	SensorID string         `json:"sensor_id"`
	TS       int64          `json:"ts"`
	Severity float64        `json:"severity"`
	Label    string         `json:"label,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// ValidationError describes a malformed alert field. The caller must fix
// and resubmit; these are never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// New validates in and returns the canonical alert record with
// ReviewState set to StateOpen. Severity outside [0, 5] is clamped and the
// original value retained under details["raw_severity"]. A pre-set label is
// rejected: labels are applied through review, never at ingestion.
func New(in Input) (*Alert, error) {
	if in.SensorID == "" {
		return nil, &ValidationError{Field: "sensor_id", Reason: "must be non-empty"}
	}
	if math.IsNaN(in.Severity) || math.IsInf(in.Severity, 0) {
		return nil, &ValidationError{Field: "severity", Reason: "must be finite"}
	}
	if in.Label != "" {
		return nil, &ValidationError{Field: "label", Reason: "cannot be set before review"}
	}
	if err := validateDetails(in.Details); err != nil {
		return nil, err
	}

	a := &Alert{
		SensorID:    in.SensorID,
		TS:          in.TS,
		Severity:    in.Severity,
		Details:     cloneDetails(in.Details),
		ReviewState: StateOpen,
	}

	if a.Severity < SeverityMin || a.Severity > SeverityMax {
		if a.Details == nil {
			a.Details = make(map[string]any, 1)
		}
		a.Details[RawSeverityKey] = in.Severity
		a.Severity = math.Min(math.Max(a.Severity, SeverityMin), SeverityMax)
	}

	return a, nil
}

// validateDetails checks the open metadata mapping structurally: keys are
// non-empty strings, values are scalars or flat arrays of scalars.
func validateDetails(d map[string]any) error {
	for k, v := range d {
		if k == "" {
			return &ValidationError{Field: "details", Reason: "empty key"}
		}
		if err := validateValue(k, v, true); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(key string, v any, allowArray bool) error {
	switch x := v.(type) {
	case nil, string, bool, int, int64, json.Number:
		return nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return &ValidationError{Field: "details." + key, Reason: "must be finite"}
		}
		return nil
	case []any:
		if !allowArray {
			return &ValidationError{Field: "details." + key, Reason: "nested arrays are not supported"}
		}
		for _, e := range x {
			if err := validateValue(key, e, false); err != nil {
				return err
			}
		}
		return nil
	default:
		return &ValidationError{Field: "details." + key, Reason: fmt.Sprintf("unsupported value kind %T", v)}
	}
}

func cloneDetails(d map[string]any) map[string]any {
	if d == nil {
		return nil
	}
	cp := make(map[string]any, len(d))
	for k, v := range d {
		if arr, ok := v.([]any); ok {
			cp[k] = append([]any(nil), arr...)
			continue
		}
		cp[k] = v
	}
	return cp
}
