package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/akontos/tradeledger/internal/database"
	"github.com/akontos/tradeledger/internal/domain"
)

// Engine is the sole writer of account.balance, trade.opening_balance and
// trade.realized_pl. Every mutation path (manual edits, broker feed, the
// nightly integrity job) funnels through Recalculate / RecalculateTx.
type Engine struct {
	db  *database.DB
	log zerolog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewEngine creates a new recalculation engine
func NewEngine(db *database.DB, log zerolog.Logger) *Engine {
	return &Engine{
		db:    db,
		log:   log.With().Str("component", "ledger_engine").Logger(),
		locks: make(map[int64]*sync.Mutex),
	}
}

// LockAccount serializes mutations on one account. Callers hold the lock
// around their whole unit of work (event write + recalculation) and release
// it via the returned function. Locking multiple accounts must happen in
// ascending id order; see LockAccounts.
func (e *Engine) LockAccount(accountID int64) func() {
	e.mu.Lock()
	l, ok := e.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[accountID] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// LockAccounts locks a set of accounts in ascending id order so two
// transfers touching the same pair cannot deadlock.
func (e *Engine) LockAccounts(accountIDs []int64) func() {
	ids := make([]int64, 0, len(accountIDs))
	seen := make(map[int64]bool)
	for _, id := range accountIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	unlocks := make([]func(), 0, len(ids))
	for _, id := range ids {
		unlocks = append(unlocks, e.LockAccount(id))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// Recalculate replays an account's events and writes back the derived
// fields, all inside its own transaction. A nil since means a full replay
// from the account's initial balance.
func (e *Engine) Recalculate(accountID int64, since *time.Time) error {
	unlock := e.LockAccount(accountID)
	defer unlock()

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin recalculation: %w", err)
	}
	if err := e.RecalculateTx(tx, accountID, since); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RecalculateTx performs the replay inside the caller's transaction, so an
// event write and its recalculation commit or roll back as one unit. The
// caller is responsible for holding the account lock.
func (e *Engine) RecalculateTx(tx *sql.Tx, accountID int64, since *time.Time) error {
	var initialBalance float64
	err := tx.QueryRow("SELECT initial_balance FROM accounts WHERE id = ?", accountID).Scan(&initialBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load account %d: %w", accountID, err)
	}

	running := initialBalance
	if since != nil {
		prior, err := e.priorBalance(tx, accountID, *since)
		if err != nil {
			return err
		}
		running += prior
	}

	evs, err := e.loadEvents(tx, accountID, since)
	if err != nil {
		return err
	}

	for i := range evs {
		ev := &evs[i]
		if ev.kind == kindTransaction {
			running += ev.amount
			continue
		}

		opening := running
		if ev.status == domain.StatusClosed {
			pl := ResolveGain(ev.amountGain, ev.percentageGain, opening, ev.fees)
			if _, err := tx.Exec(
				"UPDATE trades SET opening_balance = ?, realized_pl = ? WHERE id = ?",
				opening, pl, ev.id,
			); err != nil {
				return fmt.Errorf("failed to update trade %d: %w", ev.id, err)
			}
			running += pl
		} else {
			// OPEN trades snapshot their opening balance but do not
			// contribute to the running balance until closed.
			if _, err := tx.Exec(
				"UPDATE trades SET opening_balance = ?, realized_pl = NULL WHERE id = ?",
				opening, ev.id,
			); err != nil {
				return fmt.Errorf("failed to update trade %d: %w", ev.id, err)
			}
		}
	}

	if _, err := tx.Exec("UPDATE accounts SET balance = ? WHERE id = ?", running, accountID); err != nil {
		return fmt.Errorf("failed to update balance for account %d: %w", accountID, err)
	}

	e.log.Debug().
		Int64("account_id", accountID).
		Int("events", len(evs)).
		Float64("balance", running).
		Msg("Recalculation complete")

	return nil
}

// event kinds for the replay fold. Transactions sort before trades at the
// same instant, which keeps the tie-break deterministic across the two
// tables and folds same-timestamp deposits before percentage trades.
const (
	kindTransaction = 0
	kindTrade       = 1
)

type replayEvent struct {
	at   time.Time
	kind int
	id   int64

	// transaction leg
	amount float64

	// trade
	status         domain.TradeStatus
	fees           float64
	amountGain     *float64
	percentageGain *float64
}

// priorBalance folds all events strictly before the replay window: signed
// transaction amounts plus the persisted realized P/L of earlier closed
// trades, which are untouched by the mutation that opened this window.
func (e *Engine) priorBalance(tx *sql.Tx, accountID int64, since time.Time) (float64, error) {
	cutoff := since.UTC().Format(time.RFC3339)

	var txSum float64
	err := tx.QueryRow(`
		SELECT COALESCE(SUM(CASE WHEN to_account_id = ? THEN amount ELSE 0 END), 0)
		     - COALESCE(SUM(CASE WHEN from_account_id = ? THEN amount ELSE 0 END), 0)
		FROM transactions
		WHERE (from_account_id = ? OR to_account_id = ?) AND executed_at < ?
	`, accountID, accountID, accountID, accountID, cutoff).Scan(&txSum)
	if err != nil {
		return 0, fmt.Errorf("failed to fold prior transactions: %w", err)
	}

	var tradeSum float64
	err = tx.QueryRow(`
		SELECT COALESCE(SUM(realized_pl), 0)
		FROM trades
		WHERE account_id = ? AND status = ? AND entry_at < ? AND realized_pl IS NOT NULL
	`, accountID, domain.StatusClosed, cutoff).Scan(&tradeSum)
	if err != nil {
		return 0, fmt.Errorf("failed to fold prior trades: %w", err)
	}

	return txSum + tradeSum, nil
}

// loadEvents loads every event in the replay window, merged across the two
// tables and sorted by (timestamp, kind, id).
func (e *Engine) loadEvents(tx *sql.Tx, accountID int64, since *time.Time) ([]replayEvent, error) {
	var evs []replayEvent

	txQuery := `
		SELECT id, amount, executed_at, from_account_id, to_account_id
		FROM transactions
		WHERE (from_account_id = ? OR to_account_id = ?)
	`
	txArgs := []interface{}{accountID, accountID}
	if since != nil {
		txQuery += " AND executed_at >= ?"
		txArgs = append(txArgs, since.UTC().Format(time.RFC3339))
	}

	rows, err := tx.Query(txQuery, txArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id         int64
			amount     float64
			executedAt string
			fromID     sql.NullInt64
			toID       sql.NullInt64
		)
		if err := rows.Scan(&id, &amount, &executedAt, &fromID, &toID); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		at, err := time.Parse(time.RFC3339, executedAt)
		if err != nil {
			return nil, fmt.Errorf("malformed timestamp on transaction %d: %w", id, err)
		}

		signed := 0.0
		if fromID.Valid && fromID.Int64 == accountID {
			signed -= amount
		}
		if toID.Valid && toID.Int64 == accountID {
			signed += amount
		}
		evs = append(evs, replayEvent{at: at, kind: kindTransaction, id: id, amount: signed})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	tradeQuery := `
		SELECT t.id, t.status, t.fees, t.entry_at, p.amount_gain, p.percentage_gain
		FROM trades t
		JOIN trade_payloads p ON p.trade_id = t.id
		WHERE t.account_id = ?
	`
	tradeArgs := []interface{}{accountID}
	if since != nil {
		tradeQuery += " AND t.entry_at >= ?"
		tradeArgs = append(tradeArgs, since.UTC().Format(time.RFC3339))
	}

	tradeRows, err := tx.Query(tradeQuery, tradeArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	defer tradeRows.Close()

	for tradeRows.Next() {
		var (
			id      int64
			status  string
			fees    float64
			entryAt string
			aGain   sql.NullFloat64
			pGain   sql.NullFloat64
		)
		if err := tradeRows.Scan(&id, &status, &fees, &entryAt, &aGain, &pGain); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		at, err := time.Parse(time.RFC3339, entryAt)
		if err != nil {
			return nil, fmt.Errorf("malformed timestamp on trade %d: %w", id, err)
		}

		ev := replayEvent{at: at, kind: kindTrade, id: id, status: domain.TradeStatus(status), fees: fees}
		if aGain.Valid {
			v := aGain.Float64
			ev.amountGain = &v
		}
		if pGain.Valid {
			v := pGain.Float64
			ev.percentageGain = &v
		}
		evs = append(evs, ev)
	}
	if err := tradeRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	sort.Slice(evs, func(i, j int) bool {
		a, b := evs[i], evs[j]
		if !a.at.Equal(b.at) {
			return a.at.Before(b.at)
		}
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		return a.id < b.id
	})

	return evs, nil
}
