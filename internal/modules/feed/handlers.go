package feed

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/akontos/tradeledger/internal/domain"
	"github.com/akontos/tradeledger/internal/modules/accounts"
	"github.com/akontos/tradeledger/internal/modules/trades"
)

// Header names for the feed signature scheme.
const (
	HeaderTimestamp = "X-Feed-Timestamp"
	HeaderSignature = "X-Feed-Signature"
)

// brokerTrade is the raw shape delivered by broker sync agents (MT5-style
// tickets). It is mapped to a canonical closed trade before it reaches the
// ledger.
type brokerTrade struct {
	Ticket     string    `json:"ticket"`
	AccountID  int64     `json:"account_id"`
	Symbol     string    `json:"symbol"`
	Volume     float64   `json:"volume"`
	Direction  string    `json:"direction"`
	OpenPrice  float64   `json:"open_price"`
	ClosePrice float64   `json:"close_price"`
	Profit     float64   `json:"profit"`
	Fees       float64   `json:"fees"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

// Handler handles broker feed ingestion. Signature and staleness failures
// are rejected here; nothing unauthenticated reaches the ledger.
type Handler struct {
	trades   *trades.Service
	accounts *accounts.Repository
	secret   []byte
	maxSkew  time.Duration
	log      zerolog.Logger
}

// NewHandler creates a new feed handler
func NewHandler(tradesService *trades.Service, accountsRepo *accounts.Repository, secret string, maxSkew time.Duration, log zerolog.Logger) *Handler {
	return &Handler{
		trades:   tradesService,
		accounts: accountsRepo,
		secret:   []byte(secret),
		maxSkew:  maxSkew,
		log:      log.With().Str("handler", "feed").Logger(),
	}
}

// HandleIngestTrade handles POST /api/feed/trades
func (h *Handler) HandleIngestTrade(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if err := VerifySignature(h.secret, r.Header.Get(HeaderTimestamp), body, r.Header.Get(HeaderSignature), h.maxSkew, time.Now()); err != nil {
		h.log.Warn().Err(err).Msg("Rejected feed request")
		http.Error(w, "Invalid feed signature", http.StatusUnauthorized)
		return
	}

	var raw brokerTrade
	if err := json.Unmarshal(body, &raw); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if raw.Ticket == "" {
		http.Error(w, "ticket is required", http.StatusBadRequest)
		return
	}

	account, err := h.accounts.GetByID(raw.AccountID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to resolve feed account")
		http.Error(w, "Ingestion failed", http.StatusInternalServerError)
		return
	}
	if account == nil {
		http.Error(w, "Unknown account", http.StatusNotFound)
		return
	}

	// The signature authenticates the feed; the ingestion itself runs as the
	// account's owner.
	result, err := h.trades.Ingest(account.UserID, mapBrokerTrade(&raw))
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, vErr.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Str("ticket", raw.Ticket).Msg("Failed to ingest trade")
		http.Error(w, "Ingestion failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// mapBrokerTrade converts a broker ticket into a canonical closed FX trade.
// The broker reports a realized profit, so the gain is absolute.
func mapBrokerTrade(raw *brokerTrade) *domain.Trade {
	direction := domain.DirectionLong
	if raw.Direction == "SHORT" || raw.Direction == "SELL" {
		direction = domain.DirectionShort
	}

	profit := raw.Profit
	closedAt := raw.ClosedAt

	return &domain.Trade{
		AccountID:   raw.AccountID,
		AssetClass:  domain.AssetFX,
		Status:      domain.StatusClosed,
		Direction:   direction,
		Symbol:      raw.Symbol,
		Fees:        raw.Fees,
		EntryAt:     raw.OpenedAt,
		ExitAt:      &closedAt,
		ExternalRef: raw.Ticket,
		Payload: &domain.TradePayload{
			AssetClass: domain.AssetFX,
			AmountGain: &profit,
			Lots:       &raw.Volume,
			EntryPrice: &raw.OpenPrice,
			ExitPrice:  &raw.ClosePrice,
		},
	}
}
