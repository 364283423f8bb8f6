package alertapi

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/hyperstream/internal/alert"
)

// batchRequest is the wire shape of an ingest call.
type batchRequest struct {
	Alerts []alert.Input `json:"alerts"`
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int("hyperstream.batch.size", len(req.Alerts)))

	res, err := a.ingest.Ingest(r.Context(), req.Alerts)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.Int("hyperstream.batch.accepted", res.Accepted),
		attribute.Int("hyperstream.batch.duplicates", res.Duplicates),
	)

	writeJSON(w, http.StatusAccepted, res)
}
