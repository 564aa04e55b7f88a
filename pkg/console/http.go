package console

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cognitriage/console/pkg/analysis"
	"github.com/cognitriage/console/pkg/common/logger"
	"github.com/cognitriage/console/pkg/demo"
	"github.com/cognitriage/console/pkg/pipeline"
	"github.com/cognitriage/console/pkg/session"
)

// jobPipeline is the per-session runtime the handlers drive. Satisfied by
// *pipeline.Pipeline; faked in tests.
type jobPipeline interface {
	Submit(ctx context.Context) (string, error)
	SubmitDemoHealthy(ctx context.Context, profile demo.Profile) (string, error)
	SubmitDemoPathology(ctx context.Context, profile demo.Profile) (string, error)
	MatchTrials(ctx context.Context) ([]map[string]interface{}, error)
	Reset(ctx context.Context)
	Close()
}

// Handler exposes the dashboard session and pipeline operations over HTTP.
type Handler struct {
	manager     *session.Manager
	profiles    demo.Profiles
	newPipeline func(s *session.Session) jobPipeline
}

// NewHandler wires the HTTP surface. newPipeline builds the pipeline bound to
// each freshly created session.
func NewHandler(manager *session.Manager, profiles demo.Profiles, newPipeline func(s *session.Session) *pipeline.Pipeline) *Handler {
	return &Handler{
		manager:  manager,
		profiles: profiles,
		newPipeline: func(s *session.Session) jobPipeline {
			return newPipeline(s)
		},
	}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/sessions", h.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}", h.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", h.handleDeleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/intake", h.handleIntake).Methods(http.MethodPut)
	r.HandleFunc("/sessions/{id}/submit", h.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/demo-healthy", h.handleDemoHealthy).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/demo-pathology", h.handleDemoPathology).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/reset", h.handleReset).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/trials", h.handleTrials).Methods(http.MethodPost)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s := h.manager.Create()
	s.Bind(h.newPipeline(s))
	writeJSON(w, http.StatusCreated, map[string]interface{}{"session_id": s.ID.String()})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}
	state := s.Store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":    state,
		"can_submit": s.Store.CanSubmit(),
	})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	if !h.manager.Delete(id) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type intakeRequest struct {
	Age       *int   `json:"age,omitempty"`
	MocaScore *int   `json:"moca_score,omitempty"`
	Sex       string `json:"sex,omitempty"`
}

func (h *Handler) handleIntake(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req intakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Sex != "" && req.Sex != session.SexFemale && req.Sex != session.SexMale && req.Sex != session.SexUnknown {
		http.Error(w, "sex must be F, M or U", http.StatusBadRequest)
		return
	}
	s.Store.SetIntake(req.Age, req.MocaScore, req.Sex)
	writeJSON(w, http.StatusOK, map[string]interface{}{"can_submit": s.Store.CanSubmit()})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}
	pl, ok := h.runtime(w, s)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	// Optional moca/meta parts use the same JSON shapes as the analysis
	// service contract and update the intake before the guard runs.
	if raw := r.FormValue("moca"); raw != "" {
		var moca analysis.MocaScore
		if err := json.Unmarshal([]byte(raw), &moca); err != nil {
			http.Error(w, "invalid moca payload", http.StatusBadRequest)
			return
		}
		s.Store.SetIntake(nil, &moca.Total, "")
	}
	if raw := r.FormValue("meta"); raw != "" {
		var meta analysis.Demographics
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			http.Error(w, "invalid meta payload", http.StatusBadRequest)
			return
		}
		age := meta.Age
		s.Store.SetIntake(&age, nil, meta.Sex)
	}

	var files []session.FileRef
	for _, header := range r.MultipartForm.File["files"] {
		file, err := header.Open()
		if err != nil {
			http.Error(w, "failed to read uploaded file", http.StatusBadRequest)
			return
		}
		content, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			http.Error(w, "failed to read uploaded file", http.StatusBadRequest)
			return
		}
		files = append(files, session.FileRef{Name: header.Filename, Size: int64(len(content)), Content: content})
	}
	if files != nil {
		s.Store.SetFiles(files)
	}

	jobID, err := pl.Submit(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrSubmissionBlocked) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error":      "submission blocked by intake guard",
				"can_submit": false,
			})
			return
		}
		logger.Log.WithError(err).Error("Submission failed")
		http.Error(w, "submission failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": jobID})
}

func (h *Handler) handleDemoHealthy(w http.ResponseWriter, r *http.Request) {
	h.handleDemo(w, r, func(ctx context.Context, pl jobPipeline) (string, error) {
		return pl.SubmitDemoHealthy(ctx, h.profiles.Healthy)
	})
}

func (h *Handler) handleDemoPathology(w http.ResponseWriter, r *http.Request) {
	h.handleDemo(w, r, func(ctx context.Context, pl jobPipeline) (string, error) {
		return pl.SubmitDemoPathology(ctx, h.profiles.Pathology)
	})
}

func (h *Handler) handleDemo(w http.ResponseWriter, r *http.Request, submit func(context.Context, jobPipeline) (string, error)) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}
	pl, ok := h.runtime(w, s)
	if !ok {
		return
	}
	jobID, err := submit(r.Context(), pl)
	if err != nil {
		logger.Log.WithError(err).Error("Demo submission failed")
		http.Error(w, "submission failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": jobID})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}
	pl, ok := h.runtime(w, s)
	if !ok {
		return
	}
	pl.Reset(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTrials(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}
	pl, ok := h.runtime(w, s)
	if !ok {
		return
	}
	trials, err := pl.MatchTrials(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrNoResult) {
			http.Error(w, "no completed result in session", http.StatusConflict)
			return
		}
		logger.Log.WithError(err).Error("Trials query failed")
		http.Error(w, "trials query failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trials": trials})
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return nil, false
	}
	s, ok := h.manager.Get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	s.Store.Touch()
	return s, true
}

func (h *Handler) runtime(w http.ResponseWriter, s *session.Session) (jobPipeline, bool) {
	pl, ok := s.Runtime().(jobPipeline)
	if !ok {
		http.Error(w, "session has no pipeline", http.StatusInternalServerError)
		return nil, false
	}
	return pl, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.WithError(err).Error("Failed to encode response")
	}
}
