// Package alertapi exposes the ingestion and review pipeline over HTTP.
package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/hyperstream/internal/alert"
	"github.com/linnemanlabs/hyperstream/internal/ingest"
	"github.com/linnemanlabs/hyperstream/internal/triage"
)

// Ingestor defines the batch admission operation alertapi needs.
type Ingestor interface {
	Ingest(ctx context.Context, batch []alert.Input) (ingest.Result, error)
}

// Reviewer defines the claim state machine operations alertapi needs.
type Reviewer interface {
	Claim(ctx context.Context, id alert.Identity, reviewer string) (*triage.Claim, error)
	Label(ctx context.Context, id alert.Identity, reviewer, label string) (*alert.Alert, error)
	Dismiss(ctx context.Context, id alert.Identity, reviewer string) (*alert.Alert, error)
	Release(ctx context.Context, id alert.Identity, reviewer string) (*alert.Alert, error)
	Reopen(ctx context.Context, id alert.Identity) (*alert.Alert, error)
	ActiveClaim(id alert.Identity) (*triage.Claim, bool)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	ingest  Ingestor
	store   triage.Store
	reviews Reviewer
}

// New creates a new API handler.
func New(logger log.Logger, ingestor Ingestor, store triage.Store, reviews Reviewer) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if ingestor == nil {
		panic(xerrors.New("ingestor is required"))
	}
	if store == nil {
		panic(xerrors.New("store is required"))
	}
	if reviews == nil {
		panic(xerrors.New("reviewer is required"))
	}
	return &API{
		logger:  logger,
		ingest:  ingestor,
		store:   store,
		reviews: reviews,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/", a.handleRoot)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/alerts", a.handleIngest)
		r.Get("/alerts", a.handleQuery)
		r.Route("/alerts/{sensorID}/{ts}", func(r chi.Router) {
			r.Get("/", a.handleGet)
			r.Post("/claim", a.handleClaim)
			r.Post("/label", a.handleLabel)
			r.Post("/dismiss", a.handleDismiss)
			r.Post("/release", a.handleRelease)
			r.Post("/reopen", a.handleReopen)
		})
	})
}

// handleRoot reports the service name and build version.
func (a *API) handleRoot(w http.ResponseWriter, _ *http.Request) {
	vi := v.Get()
	writeJSON(w, http.StatusOK, map[string]string{
		"service": vi.AppName,
		"version": vi.Version,
	})
}

// identityFromRequest parses the (sensor_id, ts) pair from the URL.
func identityFromRequest(r *http.Request) (alert.Identity, error) {
	sensorID := chi.URLParam(r, "sensorID")
	ts, err := strconv.ParseInt(chi.URLParam(r, "ts"), 10, 64)
	if err != nil {
		return alert.Identity{}, &alert.ValidationError{Field: "ts", Reason: "must be an integer"}
	}
	return alert.Identity{SensorID: sensorID, TS: ts}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps component errors onto HTTP statuses. Everything in
// the taxonomy is a caller-recoverable failure; only unknown errors are 500s.
func (a *API) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *alert.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ingest.ErrBatchTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ingest.ErrOverloaded), errors.Is(err, ingest.ErrClosed):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, triage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, triage.ErrConflict),
		errors.Is(err, triage.ErrAlreadyClaimed),
		errors.Is(err, triage.ErrNotClaimOwner),
		errors.Is(err, triage.ErrNoActiveClaim),
		errors.Is(err, triage.ErrTerminal),
		errors.Is(err, triage.ErrNotTerminal),
		errors.Is(err, triage.ErrInvalidMutation):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
