package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/folio/internal/work"
)

// GET /api/users/{userID}/positions
func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.container.ValuationService.GetPositions(r.Context(), userIDFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, positions)
}

// GET /api/users/{userID}/positions/{symbol}
func (s *Server) handleGetPositionDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.container.ValuationService.GetPositionDetail(r.Context(), userIDFrom(r), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if detail == nil {
		s.writeError(w, http.StatusNotFound, "security not found")
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

// GET /api/users/{userID}/summary
//
// Viewing the summary also queues a reconcile so a stale series catches up
// without the caller waiting for it.
func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	summary, err := s.container.ValuationService.GetPortfolioSummary(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	// Closed positions still carry realized P&L history, so any trade counts
	if _, traded, err := s.container.TransactionRepo.FirstTradeDate(r.Context(), userID); err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to check trade history")
	} else if traded {
		work.EnqueueReconcile(s.log, s.container.WorkProcessor, userID)
	}
	s.writeJSON(w, http.StatusOK, summary)
}
