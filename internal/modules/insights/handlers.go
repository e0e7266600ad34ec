package insights

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/akontos/tradeledger/internal/domain"
	"github.com/akontos/tradeledger/internal/modules/auth"
)

// Handler handles insights HTTP requests
type Handler struct {
	service *Service
	log     zerolog.Logger
}

// NewHandler creates a new insights handler
func NewHandler(service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "insights").Logger(),
	}
}

// HandleSummary handles GET /api/insights/summary?account_id=
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(userID, accountID int64) (interface{}, error) {
		return h.service.Summary(userID, accountID)
	})
}

// HandleInstruments handles GET /api/insights/instruments?account_id=
func (h *Handler) HandleInstruments(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(userID, accountID int64) (interface{}, error) {
		return h.service.ByInstrument(userID, accountID)
	})
}

// HandleDirections handles GET /api/insights/directions?account_id=
func (h *Handler) HandleDirections(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(userID, accountID int64) (interface{}, error) {
		return h.service.ByDirection(userID, accountID)
	})
}

// HandleMonths handles GET /api/insights/months?account_id=
func (h *Handler) HandleMonths(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(userID, accountID int64) (interface{}, error) {
		return h.service.ByMonth(userID, accountID)
	})
}

// HandleSessions handles GET /api/insights/sessions?account_id=
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(userID, accountID int64) (interface{}, error) {
		return h.service.BySession(userID, accountID)
	})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, fn func(userID, accountID int64) (interface{}, error)) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accountID, err := strconv.ParseInt(r.URL.Query().Get("account_id"), 10, 64)
	if err != nil {
		http.Error(w, "account_id is required", http.StatusBadRequest)
		return
	}

	result, err := fn(userID, accountID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			http.Error(w, "Not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrForbidden):
			http.Error(w, "Forbidden", http.StatusForbidden)
		default:
			h.log.Error().Err(err).Msg("Failed to compute insights")
			http.Error(w, "Failed to compute insights", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
