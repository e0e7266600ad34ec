package trades

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akontos/tradeledger/internal/database"
	"github.com/akontos/tradeledger/internal/domain"
	"github.com/akontos/tradeledger/internal/events"
	"github.com/akontos/tradeledger/internal/modules/accounts"
	"github.com/akontos/tradeledger/internal/modules/ledger"
)

// Service wraps trade mutations: ownership checks, gain-field normalization,
// the write, and the replay from the earliest affected date, all in one
// database transaction per mutation.
type Service struct {
	repo     *Repository
	accounts *accounts.Repository
	db       *database.DB
	engine   *ledger.Engine
	events   *events.Manager
	log      zerolog.Logger
}

// NewService creates a new trade service
func NewService(repo *Repository, accountsRepo *accounts.Repository, db *database.DB, engine *ledger.Engine, ev *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		accounts: accountsRepo,
		db:       db,
		engine:   engine,
		events:   ev,
		log:      log.With().Str("service", "trades").Logger(),
	}
}

// IngestResult reports a feed ingestion outcome.
type IngestResult struct {
	TradeID   int64 `json:"trade_id"`
	Duplicate bool  `json:"duplicate"`
}

// Create validates and persists a trade, then replays its account from the
// trade's entry date. Trades created by hand get a generated external
// reference so every row carries one.
func (s *Service) Create(userID int64, t *domain.Trade) (*domain.Trade, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.accounts.GetOwned(t.AccountID, userID); err != nil {
		return nil, err
	}
	if t.ExternalRef == "" {
		t.ExternalRef = "manual-" + uuid.NewString()
	}

	err := s.mutate(t.AccountID, func(tx *sql.Tx) error {
		if err := s.repo.CreateTx(tx, t); err != nil {
			return err
		}
		return s.engine.RecalculateTx(tx, t.AccountID, &t.EntryAt)
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(events.TradeRecorded, "trades", map[string]interface{}{
		"trade_id":    t.ID,
		"asset_class": t.AssetClass,
	})
	return s.repo.GetByID(t.ID)
}

// Update rewrites a trade. Replays from the earlier of the old and new entry
// dates so backdating cascades through every trade in between.
func (s *Service) Update(userID, id int64, updated *domain.Trade) (*domain.Trade, error) {
	old, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, domain.ErrNotFound
	}
	if _, err := s.accounts.GetOwned(old.AccountID, userID); err != nil {
		return nil, err
	}

	updated.ID = id
	updated.AccountID = old.AccountID
	updated.ExternalRef = old.ExternalRef
	if updated.Payload != nil {
		updated.Payload.TradeID = id
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	since := old.EntryAt
	if updated.EntryAt.Before(since) {
		since = updated.EntryAt
	}

	err = s.mutate(old.AccountID, func(tx *sql.Tx) error {
		if err := s.repo.UpdateTx(tx, updated); err != nil {
			return err
		}
		return s.engine.RecalculateTx(tx, old.AccountID, &since)
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(events.TradeUpdated, "trades", map[string]interface{}{
		"trade_id": id,
	})
	return s.repo.GetByID(id)
}

// Delete removes a trade and replays its account from its entry date.
func (s *Service) Delete(userID, id int64) error {
	old, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	if old == nil {
		return domain.ErrNotFound
	}
	if _, err := s.accounts.GetOwned(old.AccountID, userID); err != nil {
		return err
	}

	err = s.mutate(old.AccountID, func(tx *sql.Tx) error {
		if err := s.repo.DeleteTx(tx, id); err != nil {
			return err
		}
		return s.engine.RecalculateTx(tx, old.AccountID, &old.EntryAt)
	})
	if err != nil {
		return err
	}

	s.events.Emit(events.TradeDeleted, "trades", map[string]interface{}{
		"trade_id": id,
	})
	return nil
}

// Get returns a trade on an owned account.
func (s *Service) Get(userID, id int64) (*domain.Trade, error) {
	t, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.ErrNotFound
	}
	if _, err := s.accounts.GetOwned(t.AccountID, userID); err != nil {
		return nil, err
	}
	return t, nil
}

// List returns an owned account's trades.
func (s *Service) List(userID, accountID int64, filter ListFilter) ([]domain.Trade, error) {
	if _, err := s.accounts.GetOwned(accountID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListByAccount(accountID, filter)
}

// Ingest records an externally-sourced trade, keyed by its broker ticket.
// Re-ingesting a known ticket is a success no-op reporting the existing
// trade: exactly one stored trade per ticket, no double-counting.
func (s *Service) Ingest(userID int64, t *domain.Trade) (*IngestResult, error) {
	if t.ExternalRef == "" {
		return nil, &domain.ValidationError{Field: "ticket", Reason: "required"}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.accounts.GetOwned(t.AccountID, userID); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByExternalRef(t.ExternalRef)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.events.Emit(events.DuplicateTicketSkipped, "trades", map[string]interface{}{
			"ticket":   t.ExternalRef,
			"trade_id": existing.ID,
		})
		return &IngestResult{TradeID: existing.ID, Duplicate: true}, nil
	}

	err = s.mutate(t.AccountID, func(tx *sql.Tx) error {
		if err := s.repo.CreateTx(tx, t); err != nil {
			return err
		}
		return s.engine.RecalculateTx(tx, t.AccountID, &t.EntryAt)
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(events.TradeIngested, "trades", map[string]interface{}{
		"trade_id": t.ID,
		"ticket":   t.ExternalRef,
	})
	return &IngestResult{TradeID: t.ID, Duplicate: false}, nil
}

// mutate runs fn inside one database transaction while holding the account
// lock.
func (s *Service) mutate(accountID int64, fn func(tx *sql.Tx) error) error {
	unlock := s.engine.LockAccount(accountID)
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
