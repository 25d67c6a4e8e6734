package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"askarc/internal/domain"
)

// NoAnswer is the response text when nothing clears the threshold.
const NoAnswer = "No relevant answer found."

type answerRequest struct {
	UserQuery string   `json:"user_query"`
	TopK      int      `json:"top_k,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type matchBody struct {
	ID       int     `json:"id"`
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
	Score    float64 `json:"score"`
}

type answerResponse struct {
	Response        string      `json:"response"`
	Found           bool        `json:"found"`
	MatchedQuestion string      `json:"matched_question,omitempty"`
	Score           float64     `json:"score"`
	Threshold       float64     `json:"threshold"`
	Matches         []matchBody `json:"matches"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleAnswerQuery(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req answerRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ans, err := s.svc.Ask(r.Context(), req.UserQuery, domain.QueryOptions{TopK: req.TopK, Threshold: req.Threshold})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := answerResponse{
		Response:  NoAnswer,
		Found:     ans.Found(),
		Score:     ans.BestScore,
		Threshold: ans.Threshold,
		Matches:   make([]matchBody, 0, len(ans.Matches)),
	}
	for _, m := range ans.Matches {
		resp.Matches = append(resp.Matches, matchBody{ID: m.EntryID, Question: m.Question, Answer: m.Answer, Score: m.Score})
	}
	if top := ans.Top(); !top.NoMatch {
		resp.Response = top.Answer
		resp.MatchedQuestion = top.Question
		resp.Score = top.Score
	}
	writeJSON(w, http.StatusOK, resp)
}

func (req answerRequest) validate() error {
	if strings.TrimSpace(req.UserQuery) == "" {
		return errors.New("user_query is required")
	}
	if req.TopK < 0 {
		return fmt.Errorf("top_k must be >= 0, got %d", req.TopK)
	}
	if t := req.Threshold; t != nil && (math.IsNaN(*t) || *t < -1 || *t > 1) {
		return fmt.Errorf("threshold must be within [-1, 1], got %v", *t)
	}
	return nil
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Rebuild(r.Context()); err != nil {
		s.logger.Error("rebuild failed", "request_id", RequestIDFromContext(r.Context()), "error", err)
		if domain.Unavailable(err) {
			writeError(w, http.StatusServiceUnavailable, "retrieval_unavailable", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "rebuild_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "stats": s.svc.Stats()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Stats()
	status := "ok"
	if st.Entries == 0 {
		status = "empty"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "stats": st})
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Warn("query failed", "request_id", RequestIDFromContext(r.Context()), "error", err)
	switch {
	case errors.Is(err, domain.ErrEmptyCorpus):
		writeError(w, http.StatusServiceUnavailable, "corpus_unavailable", "the knowledge corpus is empty or not loaded")
	case domain.Unavailable(err):
		writeError(w, http.StatusServiceUnavailable, "retrieval_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}
