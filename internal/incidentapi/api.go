package incidentapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/chainwatch/internal/candidate"
	"github.com/linnemanlabs/chainwatch/internal/incident"
)

// IncidentService defines the business operations incidentapi needs.
type IncidentService interface {
	Submit(ctx context.Context, c *candidate.Candidate) (*incident.Outcome, error)
	Get(ctx context.Context, id string) (*incident.Incident, bool, error)
	List(ctx context.Context, f incident.Filter) ([]*incident.Incident, error)
	Archive(ctx context.Context, id string) (*incident.Incident, error)
	Subscribe(fn incident.Subscriber)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger     log.Logger
	svc        IncidentService
	ingestAuth func(http.Handler) http.Handler

	stream *streamHub
}

// New creates a new API handler. ingestAuth, when non-nil, guards the
// mutating routes.
func New(logger log.Logger, svc IncidentService, ingestAuth func(http.Handler) http.Handler) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("incident service is required"))
	}
	a := &API{
		logger:     logger,
		svc:        svc,
		ingestAuth: ingestAuth,
		stream:     newStreamHub(logger),
	}
	svc.Subscribe(a.stream.publish)
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if a.ingestAuth != nil {
				r.Use(a.ingestAuth)
			}
			r.Post("/candidates", a.handleIngestCandidates)
			r.Post("/incidents/{id}/archive", a.handleArchiveIncident)
		})
		r.Get("/incidents", a.handleListIncidents)
		r.Get("/incidents/{id}", a.handleGetIncident)
		r.Get("/stream", a.handleStream)
	})
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("chainwatch.incident.id", id))

	inc, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get incident", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := incident.Filter{
		Chain:           q.Get("chain"),
		Severity:        q.Get("severity"),
		Protocol:        q.Get("protocol"),
		IncludeArchived: q.Get("include_archived") == "true",
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	incs, err := a.svc.List(r.Context(), f)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list incidents")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if incs == nil {
		incs = []*incident.Incident{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"incidents": incs})
}

func (a *API) handleArchiveIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("chainwatch.incident.id", id))

	inc, err := a.svc.Archive(r.Context(), id)
	if err != nil {
		if incident.IsNotFound(err) {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		a.logger.Error(r.Context(), err, "failed to archive incident", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, inc)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
