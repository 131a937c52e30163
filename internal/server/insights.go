package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/amplihq/usagelens/internal/insights"
	"github.com/amplihq/usagelens/internal/store"
)

// defaultSubject is used when the query names no subject; the
// single-user deployment records everything under it.
const defaultSubject = "local"

func subjectParam(r *http.Request) string {
	if subject := r.URL.Query().Get("subject"); subject != "" {
		return subject
	}
	return defaultSubject
}

func (s *Server) handleGetInsights(w http.ResponseWriter, r *http.Request) {
	timeRange, err := insights.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.engine.GetInsights(r.Context(), subjectParam(r), timeRange)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The tip log backs the feedback endpoints.
	if err := s.store.SaveTips(report.Tips); err != nil {
		log.Printf("saving generated tips: %v", err)
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetTools(w http.ResponseWriter, r *http.Request) {
	subject := subjectParam(r)
	usage, err := s.engine.GetToolUsage(r.Context(), subject)
	if errors.Is(err, insights.ErrInsufficientData) {
		writeJSON(w, http.StatusOK, map[string]any{
			"subject_id":        subject,
			"insufficient_data": true,
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (s *Server) handleGetGrowth(w http.ResponseWriter, r *http.Request) {
	subject := subjectParam(r)
	summary, err := s.engine.GetGrowth(r.Context(), subject)
	if errors.Is(err, insights.ErrInsufficientData) {
		writeJSON(w, http.StatusOK, map[string]any{
			"subject_id":        subject,
			"insufficient_data": true,
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListTips(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	items, err := s.store.ListTips(r.Context(), subjectParam(r), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tips": items})
}

func (s *Server) handleTipFeedback(w http.ResponseWriter, r *http.Request) {
	var fb store.TipFeedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid feedback payload")
		return
	}
	if fb.Shown == nil && fb.Dismissed == nil && fb.Helpful == nil {
		writeError(w, http.StatusBadRequest, "empty feedback payload")
		return
	}

	found, err := s.store.SetTipFeedback(r.PathValue("id"), fb)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "tip not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"stats":  stats,
	})
}
