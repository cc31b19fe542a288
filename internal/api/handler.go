package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"ad-traffic-router/internal/engine"
	"ad-traffic-router/internal/observability"
	"ad-traffic-router/internal/storage"
	"ad-traffic-router/internal/targets"
	"ad-traffic-router/version"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const (
	msgCreated        = "Target created successfully"
	msgCreateFailed   = "Error creating target"
	msgIDRequired     = "Cannot create target, target id required"
	msgNoTargets      = "You havent created a target"
	msgNotFound       = "Cannot get target, Target not found"
	msgIDMissing      = "Cannot get target, Target id missing"
	msgUpdated        = "Target updated successfully"
	msgUpdateNotFound = "Cannot update target, Target not found"
	msgUpdateFailed   = "Error updating target"
)

// maxBody caps request bodies; targets and route requests are small.
const maxBody = 1 << 20

type Registry interface {
	Create(ctx context.Context, t targets.Target) error
	GetAll(ctx context.Context) ([]targets.Target, error)
	GetByID(ctx context.Context, id string) (targets.Target, error)
	UpdateByID(ctx context.Context, id string, p targets.Patch) (targets.Target, error)
}

// Decider picks the target for a routing request.
type Decider interface {
	Route(ctx context.Context, req engine.Request) (engine.Decision, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Targets Registry
	Eng     Decider
	Store   Pinger
}

func NewHandler(reg Registry, eng Decider, store Pinger) *Handler {
	return &Handler{Targets: reg, Eng: eng, Store: store}
}

type messageBody struct {
	Message string `json:"message"`
}

type dataBody struct {
	Data any `json:"data"`
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func message(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, messageBody{Message: msg})
}

// fail renders errors that are not domain outcomes: a store outage or an
// unreadable stored record is a 500, anything else is a bad request.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(r.Context())
	if errors.Is(err, storage.ErrUnavailable) {
		observability.RequestErrors.WithLabelValues("store").Inc()
		logger.Error().Err(err).Msg("store unavailable")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "store unavailable"})
		return
	}
	if errors.Is(err, targets.ErrCorrupt) || errors.Is(err, storage.ErrCorrupt) {
		observability.RequestErrors.WithLabelValues("corrupt").Inc()
		logger.Error().Err(err).Msg("corrupt stored record")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	observability.RequestErrors.WithLabelValues("bad_request").Inc()
	logger.Warn().Err(err).Msg("bad request")
	writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
}

func (h *Handler) CreateTarget(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	// a missing body is an empty target, which then lacks an id
	if b := bytes.TrimSpace(body); len(b) == 0 || bytes.Equal(b, []byte("null")) {
		body = []byte("{}")
	}
	t, err := targets.Parse(body)
	switch {
	case errors.Is(err, targets.ErrValidation):
		message(w, msgCreateFailed)
		return
	case err != nil:
		fail(w, r, err)
		return
	}

	err = h.Targets.Create(r.Context(), t)
	switch {
	case err == nil:
		message(w, msgCreated)
	case errors.Is(err, targets.ErrValidation) && strings.TrimSpace(t.ID) == "":
		message(w, msgIDRequired)
	case errors.Is(err, targets.ErrValidation), errors.Is(err, targets.ErrAlreadyExists):
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("create rejected")
		message(w, msgCreateFailed)
	default:
		fail(w, r, err)
	}
}

func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	all, err := h.Targets.GetAll(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if len(all) == 0 {
		message(w, msgNoTargets)
		return
	}
	writeJSON(w, http.StatusOK, dataBody{Data: all})
}

func (h *Handler) GetTarget(w http.ResponseWriter, r *http.Request) {
	t, err := h.Targets.GetByID(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, dataBody{Data: t})
	case errors.Is(err, targets.ErrValidation):
		message(w, msgIDMissing)
	case errors.Is(err, targets.ErrNotFound):
		message(w, msgNotFound)
	default:
		fail(w, r, err)
	}
}

func (h *Handler) UpdateTarget(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	p, err := targets.ParsePatch(body)
	switch {
	case errors.Is(err, targets.ErrValidation):
		message(w, msgUpdateFailed)
		return
	case err != nil:
		fail(w, r, err)
		return
	}

	_, err = h.Targets.UpdateByID(r.Context(), chi.URLParam(r, "id"), p)
	switch {
	case err == nil:
		message(w, msgUpdated)
	case errors.Is(err, targets.ErrNotFound):
		message(w, msgUpdateNotFound)
	case errors.Is(err, targets.ErrValidation):
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("update rejected")
		message(w, msgUpdateFailed)
	default:
		fail(w, r, err)
	}
}

func (h *Handler) Route(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		fail(w, r, err)
		return
	}

	d, err := h.Eng.Route(r.Context(), req)
	switch {
	case errors.Is(err, engine.ErrNoTargets):
		observability.Decisions.WithLabelValues("no_targets").Inc()
		message(w, msgNoTargets)
	case err != nil:
		observability.Decisions.WithLabelValues("error").Inc()
		fail(w, r, err)
	case d.Accepted:
		observability.Decisions.WithLabelValues("accept").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"url": d.URL})
	default:
		observability.Decisions.WithLabelValues("reject").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"decision": "reject"})
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("health check")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "ERROR",
			"version": version.Version,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK", "version": version.Version})
}

func Favicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
