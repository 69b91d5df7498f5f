package monojar

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Handler serves GET /api/monobank-jar-public?sendId=<id> with CORS.
type Handler struct {
	scraper *Scraper
}

func NewHandler(s *Scraper) *Handler {
	return &Handler{scraper: s}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	sendID := r.URL.Query().Get("sendId")
	if sendID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing sendId"})
		return
	}

	b, err := h.scraper.Balance(r.Context(), sendID)
	switch {
	case errors.Is(err, ErrParse):
		log.Warn().Str("sendId", sendID).Msg("Jar page had no amounts")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "Parse failed"})
		return
	case err != nil:
		log.Error().Err(err).Str("sendId", sendID).Msg("Jar fetch failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Server error", "details": err.Error()})
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=30, s-maxage=60")
	writeJSON(w, http.StatusOK, b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
