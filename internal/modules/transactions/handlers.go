package transactions

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

// Handler handles transaction HTTP requests
type Handler struct {
	service *Service
	log     zerolog.Logger
}

// NewHandler creates a new transactions handler
func NewHandler(service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "transactions").Logger(),
	}
}

// transactionRequest is the mutation payload for POST and PUT.
type transactionRequest struct {
	Kind          domain.TransactionKind `json:"kind"`
	Amount        float64                `json:"amount"`
	Currency      domain.Currency        `json:"currency"`
	ExecutedAt    time.Time              `json:"executed_at"`
	FromAccountID *int64                 `json:"from_account_id"`
	ToAccountID   *int64                 `json:"to_account_id"`
}

func (req *transactionRequest) toDomain() *domain.Transaction {
	return &domain.Transaction{
		Kind:          req.Kind,
		Amount:        req.Amount,
		Currency:      req.Currency,
		ExecutedAt:    req.ExecutedAt,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
	}
}

// HandleCreate handles POST /api/transactions
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.service.Create(userID, req.toDomain())
	if err != nil {
		h.writeError(w, err, "Failed to create transaction")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

// HandleUpdate handles PUT /api/transactions/{id}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid transaction id", http.StatusBadRequest)
		return
	}

	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.service.Update(userID, id, req.toDomain())
	if err != nil {
		h.writeError(w, err, "Failed to update transaction")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

// HandleDelete handles DELETE /api/transactions/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid transaction id", http.StatusBadRequest)
		return
	}

	if err := h.service.Delete(userID, id); err != nil {
		h.writeError(w, err, "Failed to delete transaction")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleList handles GET /api/transactions?account_id=&start_date=&end_date=
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

	var start, end *time.Time
	if s := r.URL.Query().Get("start_date"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			http.Error(w, "Invalid start_date. Use YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		start = &t
	}
	if s := r.URL.Query().Get("end_date"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			http.Error(w, "Invalid end_date. Use YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		e := t.Add(24*time.Hour - time.Second)
		end = &e
	}

	list, err := h.service.List(userID, accountID, start, end)
	if err != nil {
		h.writeError(w, err, "Failed to list transactions")
		return
	}
	if list == nil {
		list = []domain.Transaction{}
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
