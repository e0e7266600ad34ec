package transactions

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/akontos/tradeledger/internal/database"
	"github.com/akontos/tradeledger/internal/domain"
	"github.com/akontos/tradeledger/internal/events"
	"github.com/akontos/tradeledger/internal/modules/accounts"
	"github.com/akontos/tradeledger/internal/modules/ledger"
)

// Service wraps transaction mutations so every create, edit, and delete
// validates ownership, persists the change, and replays each affected
// account from the earliest date the mutation could have touched.
type Service struct {
	repo     *Repository
	accounts *accounts.Repository
	db       *database.DB
	engine   *ledger.Engine
	events   *events.Manager
	log      zerolog.Logger
}

// NewService creates a new transaction service
func NewService(repo *Repository, accountsRepo *accounts.Repository, db *database.DB, engine *ledger.Engine, ev *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		accounts: accountsRepo,
		db:       db,
		engine:   engine,
		events:   ev,
		log:      log.With().Str("service", "transactions").Logger(),
	}
}

// Create validates and persists a transaction, then replays its accounts
// from the transaction's timestamp.
func (s *Service) Create(userID int64, t *domain.Transaction) (*domain.Transaction, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	affected := t.Accounts()
	if err := s.checkOwnership(userID, affected); err != nil {
		return nil, err
	}

	err := s.mutate(affected, func(tx *sql.Tx) error {
		if err := s.repo.CreateTx(tx, t); err != nil {
			return err
		}
		return s.replay(tx, affected, t.ExecutedAt)
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(events.TransactionRecorded, "transactions", map[string]interface{}{
		"transaction_id": t.ID,
		"kind":           t.Kind,
	})
	return t, nil
}

// Update rewrites a transaction. The replay window starts at the earlier of
// the old and new timestamps: editing a date backward must replay from the
// original position too, or trailing trades keep stale opening balances.
func (s *Service) Update(userID, id int64, updated *domain.Transaction) (*domain.Transaction, error) {
	old, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, domain.ErrNotFound
	}
	if err := s.checkOwnership(userID, old.Accounts()); err != nil {
		return nil, err
	}

	updated.ID = id
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkOwnership(userID, updated.Accounts()); err != nil {
		return nil, err
	}

	since := minTime(old.ExecutedAt, updated.ExecutedAt)
	affected := unionAccounts(old.Accounts(), updated.Accounts())

	err = s.mutate(affected, func(tx *sql.Tx) error {
		if err := s.repo.UpdateTx(tx, updated); err != nil {
			return err
		}
		return s.replay(tx, affected, since)
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(events.TransactionUpdated, "transactions", map[string]interface{}{
		"transaction_id": id,
	})
	return updated, nil
}

// Delete removes a transaction and replays its accounts from its timestamp.
func (s *Service) Delete(userID, id int64) error {
	old, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	if old == nil {
		return domain.ErrNotFound
	}
	affected := old.Accounts()
	if err := s.checkOwnership(userID, affected); err != nil {
		return err
	}

	err = s.mutate(affected, func(tx *sql.Tx) error {
		if err := s.repo.DeleteTx(tx, id); err != nil {
			return err
		}
		return s.replay(tx, affected, old.ExecutedAt)
	})
	if err != nil {
		return err
	}

	s.events.Emit(events.TransactionDeleted, "transactions", map[string]interface{}{
		"transaction_id": id,
	})
	return nil
}

// List returns the transactions of an owned account.
func (s *Service) List(userID, accountID int64, start, end *time.Time) ([]domain.Transaction, error) {
	if _, err := s.accounts.GetOwned(accountID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListByAccount(accountID, start, end)
}

// mutate runs fn inside one database transaction while holding the locks of
// every affected account.
func (s *Service) mutate(accountIDs []int64, fn func(tx *sql.Tx) error) error {
	unlock := s.engine.LockAccounts(accountIDs)
	defer unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin mutation: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mutation: %w", err)
	}
	return nil
}

func (s *Service) replay(tx *sql.Tx, accountIDs []int64, since time.Time) error {
	for _, id := range accountIDs {
		if err := s.engine.RecalculateTx(tx, id, &since); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) checkOwnership(userID int64, accountIDs []int64) error {
	for _, id := range accountIDs {
		if _, err := s.accounts.GetOwned(id, userID); err != nil {
			return err
		}
	}
	return nil
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func unionAccounts(a, b []int64) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, id := range append(append([]int64{}, a...), b...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
