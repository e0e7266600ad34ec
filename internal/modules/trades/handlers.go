package trades

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/akontos/tradeledger/internal/domain"
	"github.com/akontos/tradeledger/internal/modules/auth"
)

// Handler handles trade HTTP requests
type Handler struct {
	service *Service
	log     zerolog.Logger
}

// NewHandler creates a new trades handler
func NewHandler(service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "trades").Logger(),
	}
}

// tradeRequest is the mutation payload for POST and PUT.
type tradeRequest struct {
	AccountID  int64                 `json:"account_id"`
	AssetClass domain.AssetClass     `json:"asset_class"`
	Status     domain.TradeStatus    `json:"status"`
	Direction  domain.TradeDirection `json:"direction"`
	Symbol     string                `json:"symbol"`
	Fees       float64               `json:"fees"`
	EntryAt    time.Time             `json:"entry_at"`
	ExitAt     *time.Time            `json:"exit_at"`
	Pattern    string                `json:"pattern"`
	Notes      string                `json:"notes"`
	Payload    *domain.TradePayload  `json:"payload"`
}

func (req *tradeRequest) toDomain() *domain.Trade {
	return &domain.Trade{
		AccountID:  req.AccountID,
		AssetClass: req.AssetClass,
		Status:     req.Status,
		Direction:  req.Direction,
		Symbol:     req.Symbol,
		Fees:       req.Fees,
		EntryAt:    req.EntryAt,
		ExitAt:     req.ExitAt,
		Pattern:    req.Pattern,
		Notes:      req.Notes,
		Payload:    req.Payload,
	}
}

// HandleCreate handles POST /api/trades
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.service.Create(userID, req.toDomain())
	if err != nil {
		h.writeError(w, err, "Failed to create trade")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

// HandleGet handles GET /api/trades/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid trade id", http.StatusBadRequest)
		return
	}

	trade, err := h.service.Get(userID, id)
	if err != nil {
		h.writeError(w, err, "Failed to get trade")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trade)
}

// HandleUpdate handles PUT /api/trades/{id}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid trade id", http.StatusBadRequest)
		return
	}

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.service.Update(userID, id, req.toDomain())
	if err != nil {
		h.writeError(w, err, "Failed to update trade")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

// HandleDelete handles DELETE /api/trades/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid trade id", http.StatusBadRequest)
		return
	}

	if err := h.service.Delete(userID, id); err != nil {
		h.writeError(w, err, "Failed to delete trade")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleList handles GET /api/trades?account_id=&status=&asset_class=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
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

	filter := ListFilter{
		Status:     domain.TradeStatus(r.URL.Query().Get("status")),
		AssetClass: domain.AssetClass(r.URL.Query().Get("asset_class")),
	}

	list, err := h.service.List(userID, accountID, filter)
	if err != nil {
		h.writeError(w, err, "Failed to list trades")
		return
	}
	if list == nil {
		list = []domain.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (h *Handler) writeError(w http.ResponseWriter, err error, msg string) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		http.Error(w, vErr.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	default:
		h.log.Error().Err(err).Msg(msg)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}
