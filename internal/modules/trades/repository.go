package trades

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/akontos/tradeledger/internal/domain"
)

// Repository handles trade and payload persistence. A trade row and its
// payload row are always written together.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new trade repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "trades").Logger(),
	}
}

// CreateTx inserts a trade with its payload
func (r *Repository) CreateTx(tx *sql.Tx, t *domain.Trade) error {
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := tx.Exec(`
		INSERT INTO trades
		(account_id, asset_class, status, direction, symbol, fees, entry_at, exit_at,
		 pattern, notes, external_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.AccountID, t.AssetClass, t.Status, t.Direction,
		strings.ToUpper(strings.TrimSpace(t.Symbol)), t.Fees,
		t.EntryAt.UTC().Format(time.RFC3339), nullTimePtr(t.ExitAt),
		nullString(t.Pattern), nullString(t.Notes), nullString(t.ExternalRef), now)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get trade id: %w", err)
	}
	t.ID = id
	t.CreatedAt, _ = time.Parse(time.RFC3339, now)

	if err := r.insertPayload(tx, t); err != nil {
		return err
	}

	r.log.Info().
		Int64("trade_id", id).
		Str("asset_class", string(t.AssetClass)).
		Str("symbol", t.Symbol).
		Msg("Trade created")
	return nil
}

// UpdateTx rewrites a trade's mutable fields and replaces its payload
func (r *Repository) UpdateTx(tx *sql.Tx, t *domain.Trade) error {
	_, err := tx.Exec(`
		UPDATE trades
		SET asset_class = ?, status = ?, direction = ?, symbol = ?, fees = ?,
		    entry_at = ?, exit_at = ?, pattern = ?, notes = ?
		WHERE id = ?
	`, t.AssetClass, t.Status, t.Direction,
		strings.ToUpper(strings.TrimSpace(t.Symbol)), t.Fees,
		t.EntryAt.UTC().Format(time.RFC3339), nullTimePtr(t.ExitAt),
		nullString(t.Pattern), nullString(t.Notes), t.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM trade_payloads WHERE trade_id = ?", t.ID); err != nil {
		return fmt.Errorf("failed to replace payload: %w", err)
	}
	return r.insertPayload(tx, t)
}

// DeleteTx removes a trade and its payload
func (r *Repository) DeleteTx(tx *sql.Tx, id int64) error {
	if _, err := tx.Exec("DELETE FROM trade_payloads WHERE trade_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete payload: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM trades WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete trade: %w", err)
	}
	return nil
}

func (r *Repository) insertPayload(tx *sql.Tx, t *domain.Trade) error {
	p := t.Payload
	_, err := tx.Exec(`
		INSERT INTO trade_payloads
		(trade_id, asset_class, amount_gain, percentage_gain, lots, quantity,
		 entry_price, exit_price, pip_gain, coupon_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.AssetClass,
		nullFloat64Ptr(p.AmountGain), nullFloat64Ptr(p.PercentageGain),
		nullFloat64Ptr(p.Lots), nullFloat64Ptr(p.Quantity),
		nullFloat64Ptr(p.EntryPrice), nullFloat64Ptr(p.ExitPrice),
		nullFloat64Ptr(p.PipGain), nullFloat64Ptr(p.CouponRate))
	if err != nil {
		return fmt.Errorf("failed to insert payload: %w", err)
	}
	return nil
}

const tradeColumns = `
	t.id, t.account_id, t.asset_class, t.status, t.direction, t.symbol, t.fees,
	t.entry_at, t.exit_at, t.pattern, t.notes, t.external_ref,
	t.opening_balance, t.realized_pl, t.created_at,
	p.amount_gain, p.percentage_gain, p.lots, p.quantity,
	p.entry_price, p.exit_price, p.pip_gain, p.coupon_rate
`

// GetByID retrieves a trade with its payload
func (r *Repository) GetByID(id int64) (*domain.Trade, error) {
	row := r.db.QueryRow(`
		SELECT `+tradeColumns+`
		FROM trades t JOIN trade_payloads p ON p.trade_id = t.id
		WHERE t.id = ?
	`, id)

	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return t, nil
}

// GetByExternalRef retrieves a trade by its broker ticket reference
func (r *Repository) GetByExternalRef(ref string) (*domain.Trade, error) {
	row := r.db.QueryRow(`
		SELECT `+tradeColumns+`
		FROM trades t JOIN trade_payloads p ON p.trade_id = t.id
		WHERE t.external_ref = ?
	`, ref)

	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade by external ref: %w", err)
	}
	return t, nil
}

// ListFilter narrows ListByAccount.
type ListFilter struct {
	Status     domain.TradeStatus
	AssetClass domain.AssetClass
}

// ListByAccount retrieves an account's trades, oldest first
func (r *Repository) ListByAccount(accountID int64, filter ListFilter) ([]domain.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades t JOIN trade_payloads p ON p.trade_id = t.id
		WHERE t.account_id = ?
	`
	args := []interface{}{accountID}
	if filter.Status != "" {
		query += " AND t.status = ?"
		args = append(args, filter.Status)
	}
	if filter.AssetClass != "" {
		query += " AND t.asset_class = ?"
		args = append(args, filter.AssetClass)
	}
	query += " ORDER BY t.entry_at ASC, t.id ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*domain.Trade, error) {
	var t domain.Trade
	var p domain.TradePayload
	var entryAt, createdAt string
	var exitAt, symbol, pattern, notes, externalRef sql.NullString
	var openingBalance, realizedPL sql.NullFloat64
	var aGain, pGain, lots, quantity, entryPrice, exitPrice, pipGain, couponRate sql.NullFloat64

	err := row.Scan(
		&t.ID, &t.AccountID, &t.AssetClass, &t.Status, &t.Direction, &symbol, &t.Fees,
		&entryAt, &exitAt, &pattern, &notes, &externalRef,
		&openingBalance, &realizedPL, &createdAt,
		&aGain, &pGain, &lots, &quantity,
		&entryPrice, &exitPrice, &pipGain, &couponRate,
	)
	if err != nil {
		return nil, err
	}

	t.EntryAt, err = time.Parse(time.RFC3339, entryAt)
	if err != nil {
		return nil, fmt.Errorf("malformed entry_at on trade %d: %w", t.ID, err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if exitAt.Valid {
		if at, err := time.Parse(time.RFC3339, exitAt.String); err == nil {
			t.ExitAt = &at
		}
	}

	t.Symbol = symbol.String
	t.Pattern = pattern.String
	t.Notes = notes.String
	t.ExternalRef = externalRef.String
	t.OpeningBalance = floatPtr(openingBalance)
	t.RealizedPL = floatPtr(realizedPL)

	p.TradeID = t.ID
	p.AssetClass = t.AssetClass
	p.AmountGain = floatPtr(aGain)
	p.PercentageGain = floatPtr(pGain)
	p.Lots = floatPtr(lots)
	p.Quantity = floatPtr(quantity)
	p.EntryPrice = floatPtr(entryPrice)
	p.ExitPrice = floatPtr(exitPrice)
	p.PipGain = floatPtr(pipGain)
	p.CouponRate = floatPtr(couponRate)
	t.Payload = &p

	return &t, nil
}

// Helper functions

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat64Ptr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
