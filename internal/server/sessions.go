package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/amplihq/usagelens/internal/session"
	"github.com/amplihq/usagelens/internal/store"
)

// maxSessionBody bounds how much of a session payload is read.
const maxSessionBody = 1 << 20

func readSession(w http.ResponseWriter, r *http.Request) (*session.Normalized, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSessionBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return nil, false
	}
	n, err := session.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &n, true
}

func (s *Server) handleIngestSession(w http.ResponseWriter, r *http.Request) {
	n, ok := readSession(w, r)
	if !ok {
		return
	}

	win, err := s.pipe.Ingest(r.Context(), n)
	if err != nil {
		var verr *session.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, store.ErrDuplicateSession):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, win)
}

func (s *Server) handleCorrectSession(w http.ResponseWriter, r *http.Request) {
	n, ok := readSession(w, r)
	if !ok {
		return
	}

	win, err := s.pipe.Correct(r.Context(), n)
	if err != nil {
		var verr *session.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, store.ErrUnknownSession):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, win)
}
