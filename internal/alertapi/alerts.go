package alertapi

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/hyperstream/internal/alert"
	"github.com/linnemanlabs/hyperstream/internal/triage"
)

// defaultQueryLimit caps list responses unless the caller asks for less.
const defaultQueryLimit = 1000

// alertView is an alert plus its live claim state, if any.
type alertView struct {
	*alert.Alert
	ClaimedBy      string     `json:"claimed_by,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`
}

func (a *API) view(al *alert.Alert) alertView {
	v := alertView{Alert: al}
	if cl, ok := a.reviews.ActiveClaim(al.Identity()); ok {
		v.ClaimedBy = cl.Reviewer
		v.ClaimExpiresAt = &cl.ExpiresAt
	}
	return v
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := identityFromRequest(r)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("hyperstream.alert.identity", id.String()))

	al, ok, err := a.store.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get alert", "identity", id.String())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("hyperstream.alert.review_state", string(al.ReviewState)))

	writeJSON(w, http.StatusOK, a.view(al))
}

func (a *API) handleQuery(w http.ResponseWriter, r *http.Request) {
	f, limit, err := filterFromQuery(r)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	views := make([]alertView, 0)
	for al, qerr := range a.store.Query(r.Context(), f) {
		if qerr != nil {
			a.logger.Error(r.Context(), qerr, "alert query failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		views = append(views, a.view(al))
		if len(views) >= limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": views,
		"count":  len(views),
	})
}

func filterFromQuery(r *http.Request) (triage.Filter, int, error) {
	q := r.URL.Query()
	var f triage.Filter

	f.SensorID = q.Get("sensor_id")

	if raw := q.Get("ts_from"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, 0, &alert.ValidationError{Field: "ts_from", Reason: "must be an integer"}
		}
		f.TSFrom = &v
	}
	if raw := q.Get("ts_to"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, 0, &alert.ValidationError{Field: "ts_to", Reason: "must be an integer"}
		}
		f.TSTo = &v
	}
	if raw := q.Get("severity_min"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return f, 0, &alert.ValidationError{Field: "severity_min", Reason: "must be a number"}
		}
		f.SeverityMin = &v
	}
	if raw := q.Get("review_state"); raw != "" {
		state := alert.ReviewState(raw)
		if !state.Valid() {
			return f, 0, &alert.ValidationError{Field: "review_state", Reason: "unknown state"}
		}
		f.ReviewState = state
	}

	limit := defaultQueryLimit
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return f, 0, &alert.ValidationError{Field: "limit", Reason: "must be a positive integer"}
		}
		if v < limit {
			limit = v
		}
	}

	return f, limit, nil
}
