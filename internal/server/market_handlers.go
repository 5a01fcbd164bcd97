package server

import (
	"net/http"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/market"
)

// GET /api/market/securities
func (s *Server) handleListSecurities(w http.ResponseWriter, r *http.Request) {
	securities, err := s.container.SecurityRepo.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if securities == nil {
		securities = []domain.Security{}
	}
	s.writeJSON(w, http.StatusOK, securities)
}

// POST /api/market/prices [{"symbol", "date", "close", ...}]
func (s *Server) handleIngestPrices(w http.ResponseWriter, r *http.Request) {
	var inputs []market.PriceInput
	if err := s.decodeJSON(w, r, &inputs); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.container.IngestService.IngestPrices(r.Context(), inputs)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// POST /api/market/dividends [{"symbol", "date", "amount_per_share"}]
func (s *Server) handleIngestDividends(w http.ResponseWriter, r *http.Request) {
	var inputs []market.DividendInput
	if err := s.decodeJSON(w, r, &inputs); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.container.IngestService.IngestDividends(r.Context(), inputs)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
