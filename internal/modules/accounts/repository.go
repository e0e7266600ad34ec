package accounts

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/akontos/tradeledger/internal/domain"
)

// Repository handles account persistence
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new account repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "accounts").Logger(),
	}
}

// Create inserts a new account. Balance starts equal to the initial balance;
// from then on only the engine writes it.
func (r *Repository) Create(a *domain.Account) (*domain.Account, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := r.db.Exec(`
		INSERT INTO accounts (user_id, name, currency, initial_balance, balance, is_liquid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.UserID, a.Name, a.Currency, a.InitialBalance, a.InitialBalance, a.IsLiquid, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get account id: %w", err)
	}
	a.ID = id
	a.Balance = a.InitialBalance
	a.CreatedAt, _ = time.Parse(time.RFC3339, now)

	r.log.Info().Int64("account_id", id).Str("name", a.Name).Msg("Account created")
	return a, nil
}

// GetByID retrieves an account by id
func (r *Repository) GetByID(id int64) (*domain.Account, error) {
	row := r.db.QueryRow(`
		SELECT id, user_id, name, currency, initial_balance, balance, is_liquid, created_at
		FROM accounts WHERE id = ?
	`, id)

	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// GetOwned retrieves an account and verifies ownership. Returns ErrNotFound
// if the account does not exist and ErrForbidden if it belongs to someone
// else.
func (r *Repository) GetOwned(id, userID int64) (*domain.Account, error) {
	a, err := r.GetByID(id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, domain.ErrNotFound
	}
	if a.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return a, nil
}

// ListByUser retrieves all accounts owned by a user
func (r *Repository) ListByUser(userID int64) ([]domain.Account, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, name, currency, initial_balance, balance, is_liquid, created_at
		FROM accounts WHERE user_id = ? ORDER BY id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return out, nil
}

// ListAll retrieves every account. Used by the nightly integrity job.
func (r *Repository) ListAll() ([]domain.Account, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, name, currency, initial_balance, balance, is_liquid, created_at
		FROM accounts ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return out, nil
}

// DeleteTx removes an account and all events scoped to it, inside the
// caller's transaction.
func (r *Repository) DeleteTx(tx *sql.Tx, id int64) error {
	if _, err := tx.Exec(`
		DELETE FROM trade_payloads WHERE trade_id IN (SELECT id FROM trades WHERE account_id = ?)
	`, id); err != nil {
		return fmt.Errorf("failed to delete trade payloads: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM trades WHERE account_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete trades: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM transactions WHERE from_account_id = ? OR to_account_id = ?", id, id); err != nil {
		return fmt.Errorf("failed to delete transactions: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM accounts WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// TransferPeers returns the ids of accounts linked to this one through
// transfers, so deleting an account can replay its counterparties.
func (r *Repository) TransferPeers(id int64) ([]int64, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT CASE WHEN from_account_id = ? THEN to_account_id ELSE from_account_id END
		FROM transactions
		WHERE kind = ? AND (from_account_id = ? OR to_account_id = ?)
	`, id, domain.KindTransfer, id, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find transfer peers: %w", err)
	}
	defer rows.Close()

	var peers []int64
	for rows.Next() {
		var peer sql.NullInt64
		if err := rows.Scan(&peer); err != nil {
			return nil, fmt.Errorf("failed to scan peer: %w", err)
		}
		if peer.Valid && peer.Int64 != id {
			peers = append(peers, peer.Int64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating peers: %w", err)
	}
	return peers, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var a domain.Account
	var createdAt string
	var isLiquid int

	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Currency, &a.InitialBalance, &a.Balance, &isLiquid, &createdAt)
	if err != nil {
		return nil, err
	}

	a.IsLiquid = isLiquid != 0
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}
