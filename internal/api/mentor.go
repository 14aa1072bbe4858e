package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/mentor-labs/internal/identity"
	"github.com/ashureev/mentor-labs/internal/mentor"
)

// MentorHandler serves the learning flow endpoints.
type MentorHandler struct {
	flow   *mentor.Flow
	logger *slog.Logger
}

// NewMentorHandler creates a handler over flow.
func NewMentorHandler(flow *mentor.Flow, logger *slog.Logger) *MentorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MentorHandler{flow: flow, logger: logger}
}

type startQuizRequest struct {
	ChosenPathName string `json:"chosen_path_name"`
}

type submitAnswerRequest struct {
	Answer *string `json:"answer"`
}

// AnalyzeForm stores the learner profile and resets the session.
func (h *MentorHandler) AnalyzeForm(w http.ResponseWriter, r *http.Request) {
	var form mentor.Form
	if !decodeBody(w, r, &form) {
		return
	}
	msg, err := h.flow.Analyze(r.Context(), identity.SessionIDFromContext(r.Context()), form)
	if err != nil {
		writeFlowError(w, r, h.logger, err)
		return
	}
	Success(w, map[string]any{"message": msg})
}

// GetLearningPaths returns generated path options.
func (h *MentorHandler) GetLearningPaths(w http.ResponseWriter, r *http.Request) {
	paths, err := h.flow.Paths(r.Context(), identity.SessionIDFromContext(r.Context()))
	if err != nil {
		writeFlowError(w, r, h.logger, err)
		return
	}
	Success(w, map[string]any{"paths": paths})
}

// StartQuiz chooses a path and returns the first interaction.
func (h *MentorHandler) StartQuiz(w http.ResponseWriter, r *http.Request) {
	var req startQuizRequest
	if !decodeBody(w, r, &req) {
		return
	}
	it, err := h.flow.Start(r.Context(), identity.SessionIDFromContext(r.Context()), req.ChosenPathName)
	if err != nil {
		writeFlowError(w, r, h.logger, err)
		return
	}
	Success(w, map[string]any{"interaction": it})
}

// SubmitAnswer assesses an answer and returns the next interaction.
func (h *MentorHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	it, err := h.flow.Answer(r.Context(), identity.SessionIDFromContext(r.Context()), req.Answer)
	if err != nil {
		writeFlowError(w, r, h.logger, err)
		return
	}
	Success(w, map[string]any{"interaction": it})
}

// Session returns a snapshot of the caller's session.
func (h *MentorHandler) Session(w http.ResponseWriter, r *http.Request) {
	view := h.flow.Snapshot(r.Context(), identity.SessionIDFromContext(r.Context()))
	Success(w, map[string]any{"session": view})
}

// RegisterRoutes registers the /api routes. limit wraps the generating endpoints.
func (h *MentorHandler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze_form", h.AnalyzeForm)
		r.Get("/session", h.Session)

		r.Group(func(r chi.Router) {
			if limit != nil {
				r.Use(limit)
			}
			r.Get("/get_learning_paths", h.GetLearningPaths)
			r.Post("/start_quiz", h.StartQuiz)
			r.Post("/submit_answer", h.SubmitAnswer)
		})

		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			Error(w, http.StatusNotFound, "Not found.")
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
			Error(w, http.StatusMethodNotAllowed, "Method not allowed.")
		})
	})
}
