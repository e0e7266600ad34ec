package transactions

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akontos/tradeledger/internal/database"
	"github.com/akontos/tradeledger/internal/domain"
	"github.com/akontos/tradeledger/internal/events"
	"github.com/akontos/tradeledger/internal/modules/accounts"
	"github.com/akontos/tradeledger/internal/modules/ledger"
)

func setupTestService(t *testing.T) (*Service, *database.DB) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "transactions.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	log := zerolog.Nop()
	engine := ledger.NewEngine(db, log)
	ev := events.NewManager(log)
	accountsRepo := accounts.NewRepository(db.Conn(), log)
	repo := NewRepository(db.Conn(), log)

	return NewService(repo, accountsRepo, db, engine, ev, log), db
}

func seedUser(t *testing.T, db *database.DB, id int64, email string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, 'x', '2024-01-01T00:00:00Z')`, id, email)
	require.NoError(t, err)
}

func seedAccount(t *testing.T, db *database.DB, userID int64, initialBalance float64) int64 {
	t.Helper()
	res, err := db.Exec(`
		INSERT INTO accounts (user_id, name, currency, initial_balance, balance, is_liquid, created_at)
		VALUES (?, 'Test', 'EUR', ?, ?, 1, '2024-01-01T00:00:00Z')
	`, userID, initialBalance, initialBalance)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func balanceOf(t *testing.T, db *database.DB, accountID int64) float64 {
	t.Helper()
	var balance float64
	require.NoError(t, db.QueryRow("SELECT balance FROM accounts WHERE id = ?", accountID).Scan(&balance))
	return balance
}

func i64(v int64) *int64 {
	return &v
}

func TestCreate_DepositUpdatesBalance(t *testing.T) {
	svc, db := setupTestService(t)
	seedUser(t, db, 1, "trader@example.com")
	account := seedAccount(t, db, 1, 1000)

	created, err := svc.Create(1, &domain.Transaction{
		Kind:        domain.KindDeposit,
		Amount:      500,
		Currency:    domain.CurrencyEUR,
		ExecutedAt:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		ToAccountID: i64(account),
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	assert.InDelta(t, 1500.0, balanceOf(t, db, account), 1e-9)
}

func TestCreate_TransferMovesBothBalances(t *testing.T) {
	svc, db := setupTestService(t)
	seedUser(t, db, 1, "trader@example.com")
	src := seedAccount(t, db, 1, 1000)
	dst := seedAccount(t, db, 1, 200)

	_, err := svc.Create(1, &domain.Transaction{
		Kind:          domain.KindTransfer,
		Amount:        300,
		Currency:      domain.CurrencyEUR,
		ExecutedAt:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		FromAccountID: i64(src),
		ToAccountID:   i64(dst),
	})
	require.NoError(t, err)

	assert.InDelta(t, 700.0, balanceOf(t, db, src), 1e-9)
	assert.InDelta(t, 500.0, balanceOf(t, db, dst), 1e-9)
}

func TestCreate_RejectsForeignAccount(t *testing.T) {
	svc, db := setupTestService(t)
	seedUser(t, db, 1, "owner@example.com")
	seedUser(t, db, 2, "intruder@example.com")
	account := seedAccount(t, db, 1, 1000)

	_, err := svc.Create(2, &domain.Transaction{
		Kind:        domain.KindDeposit,
		Amount:      100,
		Currency:    domain.CurrencyEUR,
		ExecutedAt:  time.Now().UTC(),
		ToAccountID: i64(account),
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	assert.InDelta(t, 1000.0, balanceOf(t, db, account), 1e-9)
}

func TestCreate_RejectsInvalidTransaction(t *testing.T) {
	svc, db := setupTestService(t)
	seedUser(t, db, 1, "trader@example.com")
	seedAccount(t, db, 1, 1000)

	_, err := svc.Create(1, &domain.Transaction{
		Kind:       domain.KindDeposit,
		Amount:     -5,
		Currency:   domain.CurrencyEUR,
		ExecutedAt: time.Now().UTC(),
	})
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestUpdate_BackdatingReplaysTrailingTrades(t *testing.T) {
	svc, db := setupTestService(t)
	seedUser(t, db, 1, "trader@example.com")
	account := seedAccount(t, db, 1, 1000)

	// A closed percentage trade sits between the transaction's new and old
	// positions.
	res, err := db.Exec(`
		INSERT INTO trades (account_id, asset_class, status, direction, fees, entry_at, created_at)
		VALUES (?, 'FX', 'CLOSED', 'LONG', 5, '2024-03-03T10:00:00Z', '2024-01-01T00:00:00Z')
	`, account)
	require.NoError(t, err)
	tradeID, err := res.LastInsertId()
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO trade_payloads (trade_id, asset_class, percentage_gain) VALUES (?, 'FX', 0.10)`, tradeID)
	require.NoError(t, err)
	require.NoError(t, ledger.NewEngine(db, zerolog.Nop()).Recalculate(account, nil))

	deposit, err := svc.Create(1, &domain.Transaction{
		Kind:        domain.KindDeposit,
		Amount:      500,
		Currency:    domain.CurrencyEUR,
		ExecutedAt:  time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
		ToAccountID: i64(account),
	})
	require.NoError(t, err)

	// Deposit after the trade: opening balance 1000, realized 95.
	var realized float64
	require.NoError(t, db.QueryRow("SELECT realized_pl FROM trades WHERE id = ?", tradeID).Scan(&realized))
	assert.InDelta(t, 95.0, realized, 1e-9)

	// Move the deposit before the trade: the replay window starts at the
	// new date and the trade's opening balance picks up the deposit.
	_, err = svc.Update(1, deposit.ID, &domain.Transaction{
		Kind:        domain.KindDeposit,
		Amount:      500,
		Currency:    domain.CurrencyEUR,
		ExecutedAt:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		ToAccountID: i64(account),
	})
	require.NoError(t, err)

	var opening float64
	require.NoError(t, db.QueryRow("SELECT opening_balance, realized_pl FROM trades WHERE id = ?", tradeID).Scan(&opening, &realized))
	assert.InDelta(t, 1500.0, opening, 1e-9)
	assert.InDelta(t, 145.0, realized, 1e-9)
	assert.InDelta(t, 1645.0, balanceOf(t, db, account), 1e-9)
}

func TestUpdate_ForwardDatingReplaysFromOldPosition(t *testing.T) {
	svc, db := setupTestService(t)
	seedUser(t, db, 1, "trader@example.com")
	account := seedAccount(t, db, 1, 1000)

	res, err := db.Exec(`
		INSERT INTO trades (account_id, asset_class, status, direction, fees, entry_at, created_at)
		VALUES (?, 'FX', 'CLOSED', 'LONG', 0, '2024-03-03T10:00:00Z', '2024-01-01T00:00:00Z')
	`, account)
	require.NoError(t, err)
	tradeID, err := res.LastInsertId()
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO trade_payloads (trade_id, asset_class, percentage_gain) VALUES (?, 'FX', 0.10)`, tradeID)
	require.NoError(t, err)
	require.NoError(t, ledger.NewEngine(db, zerolog.Nop()).Recalculate(account, nil))

	deposit, err := svc.Create(1, &domain.Transaction{
		Kind:        domain.KindDeposit,
		Amount:      1000,
		Currency:    domain.CurrencyEUR,
		ExecutedAt:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		ToAccountID: i64(account),
	})
	require.NoError(t, err)
	assert.InDelta(t, 2200.0, balanceOf(t, db, account), 1e-9)

	// Push the deposit past the trade: the window must open at the old
	// date, or the trade would keep its inflated opening balance.
	_, err = svc.Update(1, deposit.ID, &domain.Transaction{
		Kind:        domain.KindDeposit,
		Amount:      1000,
		Currency:    domain.CurrencyEUR,
		ExecutedAt:  time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
		ToAccountID: i64(account),
	})
	require.NoError(t, err)

	var opening, realized float64
	require.NoError(t, db.QueryRow("SELECT opening_balance, realized_pl FROM trades WHERE id = ?", tradeID).Scan(&opening, &realized))
	assert.InDelta(t, 1000.0, opening, 1e-9)
	assert.InDelta(t, 100.0, realized, 1e-9)
	assert.InDelta(t, 2100.0, balanceOf(t, db, account), 1e-9)
}

func TestDelete_ReplaysAffectedAccounts(t *testing.T) {
	svc, db := setupTestService(t)
	seedUser(t, db, 1, "trader@example.com")
	src := seedAccount(t, db, 1, 1000)
	dst := seedAccount(t, db, 1, 0)

	transfer, err := svc.Create(1, &domain.Transaction{
		Kind:          domain.KindTransfer,
		Amount:        400,
		Currency:      domain.CurrencyEUR,
		ExecutedAt:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		FromAccountID: i64(src),
		ToAccountID:   i64(dst),
	})
	require.NoError(t, err)
	require.InDelta(t, 600.0, balanceOf(t, db, src), 1e-9)

	require.NoError(t, svc.Delete(1, transfer.ID))

	assert.InDelta(t, 1000.0, balanceOf(t, db, src), 1e-9)
	assert.InDelta(t, 0.0, balanceOf(t, db, dst), 1e-9)
}

func TestDelete_UnknownTransaction(t *testing.T) {
	svc, db := setupTestService(t)
	seedUser(t, db, 1, "trader@example.com")
	seedAccount(t, db, 1, 1000)

	assert.ErrorIs(t, svc.Delete(1, 12345), domain.ErrNotFound)
}

func TestList_FiltersByDateRange(t *testing.T) {
	svc, db := setupTestService(t)
	seedUser(t, db, 1, "trader@example.com")
	account := seedAccount(t, db, 1, 1000)

	for day := 1; day <= 3; day++ {
		_, err := svc.Create(1, &domain.Transaction{
			Kind:        domain.KindDeposit,
			Amount:      float64(day * 100),
			Currency:    domain.CurrencyEUR,
			ExecutedAt:  time.Date(2024, 3, day, 10, 0, 0, 0, time.UTC),
			ToAccountID: i64(account),
		})
		require.NoError(t, err)
	}

	start := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 2, 23, 59, 59, 0, time.UTC)
	listed, err := svc.List(1, account, &start, &end)
	require.NoError(t, err)

	require.Len(t, listed, 1)
	assert.InDelta(t, 200.0, listed[0].Amount, 1e-9)
}
