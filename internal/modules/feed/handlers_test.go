package feed

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akontos/tradeledger/internal/database"
	"github.com/akontos/tradeledger/internal/events"
	"github.com/akontos/tradeledger/internal/modules/accounts"
	"github.com/akontos/tradeledger/internal/modules/ledger"
	"github.com/akontos/tradeledger/internal/modules/trades"
)

const feedTestSecret = "ingest-secret"

func setupTestHandler(t *testing.T) (*Handler, *database.DB, int64) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`INSERT INTO users (id, email, password_hash, created_at) VALUES (1, 'trader@example.com', 'x', '2024-01-01T00:00:00Z')`)
	require.NoError(t, err)
	res, err := db.Exec(`
		INSERT INTO accounts (user_id, name, currency, initial_balance, balance, is_liquid, created_at)
		VALUES (1, 'Broker', 'EUR', 1000, 1000, 1, '2024-01-01T00:00:00Z')
	`)
	require.NoError(t, err)
	accountID, err := res.LastInsertId()
	require.NoError(t, err)

	log := zerolog.Nop()
	engine := ledger.NewEngine(db, log)
	ev := events.NewManager(log)
	accountsRepo := accounts.NewRepository(db.Conn(), log)
	tradesRepo := trades.NewRepository(db.Conn(), log)
	tradesService := trades.NewService(tradesRepo, accountsRepo, db, engine, ev, log)

	handler := NewHandler(tradesService, accountsRepo, feedTestSecret, 5*time.Minute, log)
	return handler, db, accountID
}

func signedFeedRequest(t *testing.T, payload interface{}) *http.Request {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest("POST", "/api/feed/trades", bytes.NewReader(body))
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, Sign([]byte(feedTestSecret), ts, body))
	return req
}

func TestHandleIngestTrade_StoresClosedTrade(t *testing.T) {
	handler, db, accountID := setupTestHandler(t)

	req := signedFeedRequest(t, brokerTrade{
		Ticket:     "77421",
		AccountID:  accountID,
		Symbol:     "EURUSD",
		Volume:     0.5,
		Direction:  "SELL",
		OpenPrice:  1.0850,
		ClosePrice: 1.0820,
		Profit:     150,
		Fees:       2,
		OpenedAt:   time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		ClosedAt:   time.Date(2024, 3, 1, 11, 30, 0, 0, time.UTC),
	})
	w := httptest.NewRecorder()
	handler.HandleIngestTrade(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var result trades.IngestResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.False(t, result.Duplicate)
	assert.NotZero(t, result.TradeID)

	var balance float64
	require.NoError(t, db.QueryRow("SELECT balance FROM accounts WHERE id = ?", accountID).Scan(&balance))
	assert.InDelta(t, 1148.0, balance, 1e-9)

	var direction, status string
	var realized float64
	require.NoError(t, db.QueryRow("SELECT direction, status, realized_pl FROM trades WHERE id = ?", result.TradeID).Scan(&direction, &status, &realized))
	assert.Equal(t, "SHORT", direction)
	assert.Equal(t, "CLOSED", status)
	assert.InDelta(t, 148.0, realized, 1e-9)
}

func TestHandleIngestTrade_DuplicateTicketIsNoOp(t *testing.T) {
	handler, db, accountID := setupTestHandler(t)

	payload := brokerTrade{
		Ticket:    "77421",
		AccountID: accountID,
		Symbol:    "EURUSD",
		Direction: "BUY",
		Profit:    100,
		OpenedAt:  time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		ClosedAt:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	w := httptest.NewRecorder()
	handler.HandleIngestTrade(w, signedFeedRequest(t, payload))
	require.Equal(t, http.StatusOK, w.Code)

	var first trades.IngestResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&first))
	require.False(t, first.Duplicate)

	w = httptest.NewRecorder()
	handler.HandleIngestTrade(w, signedFeedRequest(t, payload))
	require.Equal(t, http.StatusOK, w.Code)

	var second trades.IngestResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&second))
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TradeID, second.TradeID)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM trades WHERE external_ref = '77421'").Scan(&count))
	assert.Equal(t, 1, count)

	var balance float64
	require.NoError(t, db.QueryRow("SELECT balance FROM accounts WHERE id = ?", accountID).Scan(&balance))
	assert.InDelta(t, 1100.0, balance, 1e-9)
}

func TestHandleIngestTrade_RejectsBadSignature(t *testing.T) {
	handler, _, accountID := setupTestHandler(t)

	body, _ := json.Marshal(brokerTrade{Ticket: "1", AccountID: accountID})
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest("POST", "/api/feed/trades", bytes.NewReader(body))
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, "0000")

	w := httptest.NewRecorder()
	handler.HandleIngestTrade(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleIngestTrade_RejectsStaleTimestamp(t *testing.T) {
	handler, _, accountID := setupTestHandler(t)

	body, _ := json.Marshal(brokerTrade{Ticket: "1", AccountID: accountID})
	ts := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	req := httptest.NewRequest("POST", "/api/feed/trades", bytes.NewReader(body))
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, Sign([]byte(feedTestSecret), ts, body))

	w := httptest.NewRecorder()
	handler.HandleIngestTrade(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleIngestTrade_UnknownAccount(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	req := signedFeedRequest(t, brokerTrade{
		Ticket:    "9",
		AccountID: 999,
		Direction: "BUY",
		OpenedAt:  time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		ClosedAt:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	w := httptest.NewRecorder()
	handler.HandleIngestTrade(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleIngestTrade_MissingTicket(t *testing.T) {
	handler, _, accountID := setupTestHandler(t)

	req := signedFeedRequest(t, brokerTrade{
		AccountID: accountID,
		Direction: "BUY",
		OpenedAt:  time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		ClosedAt:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	w := httptest.NewRecorder()
	handler.HandleIngestTrade(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
