package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"hadydotai/beacon/admission"
	"hadydotai/beacon/events"
)

// Routes holds the gate configuration of each ingest route.
type Routes struct {
	Ingest   admission.Gates
	Escalate admission.Gates
	Events   admission.Gates
}

// DefaultRoutes guards /ingest fully, leaves /ingest/escalate open and asks
// for a token on /events.
func DefaultRoutes() Routes {
	return Routes{
		Ingest:   admission.GatesFull,
		Escalate: admission.GatesNone,
		Events:   admission.GatesAuth,
	}
}

type Handler struct {
	service  *Service
	pipeline *admission.Pipeline
	routes   Routes
	logger   *slog.Logger
}

func NewHandler(service *Service, pipeline *admission.Pipeline, routes Routes, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  service,
		pipeline: pipeline,
		routes:   routes,
		logger:   logger.With("component", "ingest_http"),
	}
}

type response struct {
	Success bool     `json:"success"`
	ID      string   `json:"id,omitempty"`
	Error   string   `json:"error,omitempty"`
	Fields  []string `json:"fields,omitempty"`
}

// Register mounts the ingest routes, including the /api/data aliases older
// clients still post to.
func (h *Handler) Register(mux *http.ServeMux) {
	ingest := h.ingest(h.routes.Ingest)
	list := h.list(h.routes.Events)

	mux.Handle("POST /ingest", ingest)
	mux.Handle("POST /ingest/unguarded", h.ingest(admission.GatesNone))
	mux.Handle("POST /ingest/escalate", h.escalate(h.routes.Escalate))
	mux.Handle("GET /events", list)

	mux.Handle("POST /api/data", ingest)
	mux.Handle("GET /api/data", list)
}

func (h *Handler) ingest(gates admission.Gates) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt events.Event
		ctx, err := h.pipeline.Admit(r, gates, func(raw []byte) (err error) {
			evt, err = events.DecodeEvent(raw)
			return err
		})
		if err != nil {
			h.reject(ctx, w, err)
			return
		}

		res, err := h.service.Ingest(ctx, evt)
		if err != nil {
			h.fail(ctx, w, err)
			return
		}
		h.logger.InfoContext(ctx, "event ingested", "id", res.ID, "delivery", res.Delivery.Outcome.String())
		writeJSON(w, http.StatusOK, response{Success: true, ID: res.ID})
	})
}

func (h *Handler) escalate(gates admission.Gates) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt events.EscalationEvent
		ctx, err := h.pipeline.Admit(r, gates, func(raw []byte) (err error) {
			evt, err = events.DecodeEscalation(raw)
			return err
		})
		if err != nil {
			h.reject(ctx, w, err)
			return
		}

		res, err := h.service.Escalate(ctx, evt)
		if err != nil {
			h.fail(ctx, w, err)
			return
		}
		attrs := []any{"id", res.ID, "uid", evt.SubjectID, "delivery", res.Delivery.Outcome.String()}
		if res.Report != nil {
			attrs = append(attrs, "notified", res.Report.Succeeded, "notify_failed", res.Report.Failed)
		}
		h.logger.InfoContext(ctx, "escalation ingested", attrs...)
		writeJSON(w, http.StatusOK, response{Success: true, ID: res.ID})
	})
}

func (h *Handler) list(gates admission.Gates) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := h.pipeline.Guard(r, gates)
		if err != nil {
			h.reject(ctx, w, err)
			return
		}
		recs, err := h.service.Events(ctx)
		if err != nil {
			h.fail(ctx, w, err)
			return
		}
		if recs == nil {
			recs = []events.Record{}
		}
		writeJSON(w, http.StatusOK, recs)
	})
}

func (h *Handler) reject(ctx context.Context, w http.ResponseWriter, err error) {
	var rej *admission.Rejection
	if !errors.As(err, &rej) {
		h.fail(ctx, w, err)
		return
	}
	if rej.Kind == admission.KindTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(rej.RetryAfterSeconds()))
	}
	writeJSON(w, rej.Status(), response{Error: rej.Error(), Fields: rej.Fields})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	h.logger.ErrorContext(ctx, "request failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, response{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
