package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/mykarfour/quiz-attempt-engine/internal/domain"
	"github.com/mykarfour/quiz-attempt-engine/internal/engine"
)

// APIHandler exposes the read side of the engine as plain JSON endpoints:
// attempt progress and results, plus quiz and learner statistics.
type APIHandler struct {
	service *engine.Service
}

func NewAPIHandler(service *engine.Service) *APIHandler {
	return &APIHandler{service: service}
}

// Register wires the handler's routes onto the mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /attempts/{id}/progress", h.getProgress)
	mux.HandleFunc("GET /attempts/{id}/result", h.getResult)
	mux.HandleFunc("GET /quizzes/{id}/stats", h.getQuizStats)
	mux.HandleFunc("GET /learners/{id}/stats", h.getLearnerStats)
}

func (h *APIHandler) getProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.service.GetProgress(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, progress)
}

func (h *APIHandler) getResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.GetResult(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (h *APIHandler) getQuizStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.QuizStats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stats)
}

func (h *APIHandler) getLearnerStats(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("recent"))
	stats, err := h.service.LearnerStats(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stats)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrAttemptNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrQuizNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAttemptInProgress),
		errors.Is(err, domain.ErrAlreadyFinished):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrAttemptNotActive),
		errors.Is(err, domain.ErrUnknownQuestion),
		errors.Is(err, domain.ErrQuizInactive):
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
