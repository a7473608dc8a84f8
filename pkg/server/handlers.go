package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/inquest/pkg/interview"
)

// apiError is the uniform error body.
type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type createSessionBody struct {
	Methodology string         `json:"methodology"`
	ConceptID   string         `json:"concept_id,omitempty"`
	Objective   string         `json:"objective,omitempty"`
	Mode        string         `json:"mode,omitempty"`
	MaxTurns    int            `json:"max_turns,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

type turnBody struct {
	Text string `json:"text"`
}

type startResponse struct {
	Session *interview.Session `json:"session"`
	Opening string             `json:"opening"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Kind: "invalid_input", Message: "invalid JSON body"})
		return
	}

	session, err := s.interviews.Create(r.Context(), interview.CreateSessionRequest{
		Methodology: body.Methodology,
		ConceptID:   body.ConceptID,
		Objective:   body.Objective,
		Mode:        body.Mode,
		MaxTurns:    body.MaxTurns,
		Config:      body.Config,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.interviews.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*interview.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "total": len(sessions)})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.interviews.Session(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.interviews.Delete(r.Context(), chi.URLParam(r, "session")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	session, opening, err := s.interviews.Start(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{Session: session, Opening: opening})
}

func (s *Server) handleProcessTurn(w http.ResponseWriter, r *http.Request) {
	var body turnBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Kind: "invalid_input", Message: "invalid JSON body"})
		return
	}

	result, err := s.interviews.ProcessTurn(r.Context(), chi.URLParam(r, "session"), body.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	if err := s.interviews.Close(r.Context(), sessionID); err != nil {
		s.writeError(w, err)
		return
	}
	session, err := s.interviews.Session(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")

	if r.URL.Query().Get("view") == "canonical" {
		slots, edges, err := s.interviews.CanonicalGraph(r.Context(), sessionID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"slots": slots, "edges": edges})
		return
	}

	nodes, edges, err := s.interviews.Graph(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "edges": edges})
}

func (s *Server) handleGetUtterances(w http.ResponseWriter, r *http.Request) {
	utterances, err := s.interviews.Utterances(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"utterances": utterances})
}

func (s *Server) handleGetScoring(w http.ResponseWriter, r *http.Request) {
	turn, err := strconv.Atoi(chi.URLParam(r, "turn"))
	if err != nil || turn < 1 {
		writeJSON(w, http.StatusBadRequest, apiError{Kind: "invalid_input", Message: "turn must be a positive integer"})
		return
	}

	trace, err := s.interviews.ScoringForTurn(r.Context(), chi.URLParam(r, "session"), turn)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if trace == nil {
		writeJSON(w, http.StatusNotFound, apiError{Kind: "not_found", Message: "no scoring trace for turn"})
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

// writeError maps the service's sentinel errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interview.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, apiError{Kind: "not_found", Message: err.Error()})
	case errors.Is(err, interview.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, apiError{Kind: "invalid_input", Message: err.Error()})
	case errors.Is(err, interview.ErrSessionCompleted):
		writeJSON(w, http.StatusBadRequest, apiError{Kind: "session_completed", Message: err.Error()})
	case errors.Is(err, interview.ErrSessionAlreadyStarted):
		writeJSON(w, http.StatusBadRequest, apiError{Kind: "already_started", Message: err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Kind: "internal", Message: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
