package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mmrzaf/etlflow/internal/app"
	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/infra/repos/runs"
)

type Handler struct {
	runService *app.RunService
}

func NewHandler(runService *app.RunService) *Handler {
	return &Handler{runService: runService}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) CheckStore(w http.ResponseWriter, r *http.Request) {
	check, err := h.runService.CheckStore(r.Context())
	if check != nil {
		if !check.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeJSON(w, check)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// Flows

func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	list, err := h.runService.ListFlows()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flow, err := h.runService.GetFlow(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, flow)
}

// ValidateFlow checks a flow body without running it.
func (h *Handler) ValidateFlow(w http.ResponseWriter, r *http.Request) {
	var flow domain.Flow
	if err := decodeJSONStrict(r, &flow); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if flow.Mapping.Definition == nil && flow.Mapping.Path != "" {
		def, err := h.runService.ResolveMapping(flow.Mapping.Path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		flow.Mapping = domain.InlineMapping(def)
	}
	if err := h.runService.ValidateFlow(&flow); err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		writeJSON(w, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, map[string]any{"valid": true})
}

// Runs

func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req domain.RunRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	run, err := h.runService.StartRun(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, run)
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	list, err := h.runService.ListRuns(r.Context(), limit, r.URL.Query().Get("status"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.runService.GetRun(r.Context(), id)
	if errors.Is(err, runs.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, run)
}

func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.runService.CancelRun(id); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSONStrict(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
