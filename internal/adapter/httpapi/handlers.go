package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"conductor/internal/domain"
	"conductor/internal/usecase/orchestrator"
)

const maxBodyBytes = 1 << 20

type messageRequest struct {
	Content string `json:"content"`
}

type toolRequest struct {
	Params map[string]any `json:"params"`
}

type handoffRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Content any    `json:"content"`
}

type errorBody struct {
	Success bool             `json:"success"`
	Error   string           `json:"error"`
	Code    domain.ErrorCode `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, errorBody{Error: err.Error(), Code: domain.ErrorCodeOf(err)})
}

// decodeBody reads a JSON request body. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode request: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// statusForReason maps an orchestrator failure reason to an HTTP status.
func statusForReason(reason string) int {
	switch reason {
	case orchestrator.ReasonValidation:
		return http.StatusBadRequest
	case orchestrator.ReasonSafety:
		return http.StatusUnprocessableEntity
	case orchestrator.ReasonInterventionDenied:
		return http.StatusForbidden
	case orchestrator.ReasonResourceLimit:
		return http.StatusServiceUnavailable
	case orchestrator.ReasonUnknownAgent:
		return http.StatusNotFound
	case "":
		// Tool ran and failed.
		return http.StatusOK
	default:
		return http.StatusBadGateway
	}
}

func statusForError(err error) int {
	switch domain.ErrorCodeOf(err) {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeUnknownEntity:
		return http.StatusNotFound
	case domain.CodeSafetyRejected:
		return http.StatusUnprocessableEntity
	case domain.CodeTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	st := s.deps.Orchestrator.Status()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"agents":       len(st.Agents),
		"routes":       st.Routes,
		"history_size": st.HistorySize,
		"listeners":    s.streams.count(),
	})
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Content == "" {
		respondError(w, http.StatusBadRequest, domain.NewDomainError("postMessage", domain.ErrMissingParameter, "content"))
		return
	}
	res := s.deps.Orchestrator.ProcessUserMessage(r.Context(), req.Content)
	status := http.StatusOK
	if !res.Success {
		status = statusForReason(res.Reason)
	}
	respondJSON(w, status, res)
}

func (s *Server) postTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req toolRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	res := s.deps.Orchestrator.HandleToolRequest(r.Context(), name, req.Params)
	status := http.StatusOK
	if !res.Success {
		status = statusForReason(res.Reason)
	}
	respondJSON(w, status, res)
}

func (s *Server) postHandoff(w http.ResponseWriter, r *http.Request) {
	var req handoffRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.From == "" || req.To == "" {
		respondError(w, http.StatusBadRequest, domain.NewDomainError("postHandoff", domain.ErrMissingParameter, "from and to"))
		return
	}
	res, err := s.deps.Orchestrator.HandleAgentHandoff(r.Context(), req.From, req.To, req.Content)
	if err != nil {
		if res.ID != "" {
			// Recorded but not delivered.
			respondJSON(w, http.StatusAccepted, res)
			return
		}
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) listAgents(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Orchestrator.Status().Agents)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		respondJSON(w, http.StatusOK, []domain.Delivery{})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, domain.NewDomainError("history", domain.ErrInvalidInput, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	out := s.deps.History.GetHistory(limit)
	if out == nil {
		out = []domain.Delivery{}
	}
	respondJSON(w, http.StatusOK, out)
}
