package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/folio/internal/modules/market"
	"github.com/aristath/folio/internal/modules/transactions"
)

type ctxKey int

const userIDKey ctxKey = iota

// maxBodyBytes bounds request bodies; market batches are the largest
const maxBodyBytes = 8 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps service errors to status codes. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, transactions.ErrInsufficientQuantity):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, transactions.ErrInvalidTransaction), errors.Is(err, market.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, transactions.ErrTransactionNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error().
			Err(err).
			Str("path", r.URL.Path).
			Msg("Request failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) userIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
		if err != nil || userID <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFrom(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}
