package transactions

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/akontos/tradeledger/internal/domain"
)

// Repository handles transaction persistence. Mutations take a *sql.Tx so
// the write and the recalculation that follows commit as one unit.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new transaction repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "transactions").Logger(),
	}
}

// CreateTx inserts a new transaction
func (r *Repository) CreateTx(tx *sql.Tx, t *domain.Transaction) error {
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := tx.Exec(`
		INSERT INTO transactions (kind, amount, currency, executed_at, from_account_id, to_account_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.Kind, t.Amount, t.Currency, t.ExecutedAt.UTC().Format(time.RFC3339),
		nullInt64Ptr(t.FromAccountID), nullInt64Ptr(t.ToAccountID), now)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get transaction id: %w", err)
	}
	t.ID = id
	t.CreatedAt, _ = time.Parse(time.RFC3339, now)
	return nil
}

// UpdateTx rewrites a transaction's mutable fields
func (r *Repository) UpdateTx(tx *sql.Tx, t *domain.Transaction) error {
	_, err := tx.Exec(`
		UPDATE transactions
		SET kind = ?, amount = ?, currency = ?, executed_at = ?, from_account_id = ?, to_account_id = ?
		WHERE id = ?
	`, t.Kind, t.Amount, t.Currency, t.ExecutedAt.UTC().Format(time.RFC3339),
		nullInt64Ptr(t.FromAccountID), nullInt64Ptr(t.ToAccountID), t.ID)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}

// DeleteTx removes a transaction
func (r *Repository) DeleteTx(tx *sql.Tx, id int64) error {
	if _, err := tx.Exec("DELETE FROM transactions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by id
func (r *Repository) GetByID(id int64) (*domain.Transaction, error) {
	row := r.db.QueryRow(`
		SELECT id, kind, amount, currency, executed_at, from_account_id, to_account_id, created_at
		FROM transactions WHERE id = ?
	`, id)

	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// ListByAccount retrieves transactions touching an account, oldest first,
// optionally bounded by a date range.
func (r *Repository) ListByAccount(accountID int64, start, end *time.Time) ([]domain.Transaction, error) {
	query := `
		SELECT id, kind, amount, currency, executed_at, from_account_id, to_account_id, created_at
		FROM transactions
		WHERE (from_account_id = ? OR to_account_id = ?)
	`
	args := []interface{}{accountID, accountID}
	if start != nil {
		query += " AND executed_at >= ?"
		args = append(args, start.UTC().Format(time.RFC3339))
	}
	if end != nil {
		query += " AND executed_at <= ?"
		args = append(args, end.UTC().Format(time.RFC3339))
	}
	query += " ORDER BY executed_at ASC, id ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var executedAt, createdAt string
	var fromID, toID sql.NullInt64

	err := row.Scan(&t.ID, &t.Kind, &t.Amount, &t.Currency, &executedAt, &fromID, &toID, &createdAt)
	if err != nil {
		return nil, err
	}

	t.ExecutedAt, err = time.Parse(time.RFC3339, executedAt)
	if err != nil {
		return nil, fmt.Errorf("malformed executed_at on transaction %d: %w", t.ID, err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if fromID.Valid {
		t.FromAccountID = &fromID.Int64
	}
	if toID.Valid {
		t.ToAccountID = &toID.Int64
	}
	return &t, nil
}

func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
