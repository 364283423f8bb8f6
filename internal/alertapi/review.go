package alertapi

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/hyperstream/internal/alert"
)

// reviewRequest is the body of claim/label/dismiss/release calls.
type reviewRequest struct {
	Reviewer string `json:"reviewer"`
	Label    string `json:"label,omitempty"`
}

func decodeReview(r *http.Request) (reviewRequest, error) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, &alert.ValidationError{Field: "body", Reason: "invalid payload"}
	}
	return req, nil
}

func (a *API) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, err := identityFromRequest(r)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	req, err := decodeReview(r)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("hyperstream.alert.identity", id.String()),
		attribute.String("hyperstream.reviewer", req.Reviewer),
	)

	cl, err := a.reviews.Claim(r.Context(), id, req.Reviewer)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cl)
}

func (a *API) handleLabel(w http.ResponseWriter, r *http.Request) {
	id, err := identityFromRequest(r)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	req, err := decodeReview(r)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	al, err := a.reviews.Label(r.Context(), id, req.Reviewer, req.Label)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(al))
}

func (a *API) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id, err := identityFromRequest(r)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	req, err := decodeReview(r)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	al, err := a.reviews.Dismiss(r.Context(), id, req.Reviewer)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(al))
}

func (a *API) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, err := identityFromRequest(r)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	req, err := decodeReview(r)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	al, err := a.reviews.Release(r.Context(), id, req.Reviewer)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(al))
}

func (a *API) handleReopen(w http.ResponseWriter, r *http.Request) {
	id, err := identityFromRequest(r)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	al, err := a.reviews.Reopen(r.Context(), id)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(al))
}
