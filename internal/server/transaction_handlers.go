package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/folio/internal/modules/transactions"
)

// GET /api/users/{userID}/transactions?page=N&per_page=M
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage > 200 {
		perPage = 200
	}

	result, err := s.container.TransactionService.List(r.Context(), userIDFrom(r), page, perPage)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// POST /api/users/{userID}/transactions
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactions.CreateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := s.container.TransactionService.Create(r.Context(), userIDFrom(r), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, tx)
}

// DELETE /api/users/{userID}/transactions/{txID}
func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	txID, err := strconv.ParseInt(chi.URLParam(r, "txID"), 10, 64)
	if err != nil || txID <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	tx, err := s.container.TransactionService.Delete(r.Context(), userIDFrom(r), txID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}
