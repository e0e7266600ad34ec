package accounts

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/akontos/tradeledger/internal/database"
	"github.com/akontos/tradeledger/internal/domain"
	"github.com/akontos/tradeledger/internal/events"
	"github.com/akontos/tradeledger/internal/modules/ledger"
)

// Service handles account lifecycle. Deleting an account also removes every
// event scoped to it and replays the counterparties of its transfers.
type Service struct {
	repo   *Repository
	db     *database.DB
	engine *ledger.Engine
	events *events.Manager
	log    zerolog.Logger
}

// NewService creates a new account service
func NewService(repo *Repository, db *database.DB, engine *ledger.Engine, ev *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		db:     db,
		engine: engine,
		events: ev,
		log:    log.With().Str("service", "accounts").Logger(),
	}
}

// Create validates and persists a new account for the user.
func (s *Service) Create(userID int64, a *domain.Account) (*domain.Account, error) {
	if a.Name == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "required"}
	}
	if a.Currency == "" {
		return nil, &domain.ValidationError{Field: "currency", Reason: "required"}
	}
	a.UserID = userID

	created, err := s.repo.Create(a)
	if err != nil {
		return nil, err
	}

	s.events.Emit(events.AccountCreated, "accounts", map[string]interface{}{
		"account_id": created.ID,
		"currency":   created.Currency,
	})
	return created, nil
}

// Get returns an owned account.
func (s *Service) Get(userID, id int64) (*domain.Account, error) {
	return s.repo.GetOwned(id, userID)
}

// List returns the user's accounts.
func (s *Service) List(userID int64) ([]domain.Account, error) {
	return s.repo.ListByUser(userID)
}

// Delete removes an owned account with all its events, then replays every
// account that was on the other side of one of its transfers.
func (s *Service) Delete(userID, id int64) error {
	if _, err := s.repo.GetOwned(id, userID); err != nil {
		return err
	}

	peers, err := s.repo.TransferPeers(id)
	if err != nil {
		return err
	}

	unlock := s.engine.LockAccounts(append([]int64{id}, peers...))
	defer unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	if err := s.repo.DeleteTx(tx, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, peer := range peers {
		if err := s.engine.RecalculateTx(tx, peer, nil); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	s.events.Emit(events.AccountDeleted, "accounts", map[string]interface{}{
		"account_id": id,
		"replayed":   len(peers),
	})
	return nil
}
