package scheduler

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/akontos/tradeledger/internal/events"
	"github.com/akontos/tradeledger/internal/modules/accounts"
	"github.com/akontos/tradeledger/internal/modules/ledger"
)

// driftTolerance absorbs float64 noise when comparing the cached balance
// against a fresh full replay.
const driftTolerance = 1e-9

// IntegrityJob replays every account from scratch and repairs any drift
// between the cached balance and the replayed one. Drift should never
// happen; when it does, it is logged loudly and corrected.
type IntegrityJob struct {
	accounts *accounts.Repository
	engine   *ledger.Engine
	events   *events.Manager
	log      zerolog.Logger
}

// NewIntegrityJob creates the nightly ledger integrity job
func NewIntegrityJob(accountsRepo *accounts.Repository, engine *ledger.Engine, ev *events.Manager, log zerolog.Logger) *IntegrityJob {
	return &IntegrityJob{
		accounts: accountsRepo,
		engine:   engine,
		events:   ev,
		log:      log.With().Str("job", "ledger_integrity").Logger(),
	}
}

// Name implements Job
func (j *IntegrityJob) Name() string {
	return "ledger_integrity"
}

// Run implements Job
func (j *IntegrityJob) Run() error {
	all, err := j.accounts.ListAll()
	if err != nil {
		return err
	}

	drifted := 0
	for _, account := range all {
		before := account.Balance

		if err := j.engine.Recalculate(account.ID, nil); err != nil {
			j.log.Error().Err(err).Int64("account_id", account.ID).Msg("Replay failed")
			continue
		}

		after, err := j.accounts.GetByID(account.ID)
		if err != nil || after == nil {
			continue
		}

		if math.Abs(after.Balance-before) > driftTolerance {
			drifted++
			j.log.Warn().
				Int64("account_id", account.ID).
				Float64("cached", before).
				Float64("replayed", after.Balance).
				Msg("Balance drift repaired")
			j.events.Emit(events.IntegrityDriftDetected, "scheduler", map[string]interface{}{
				"account_id": account.ID,
				"cached":     before,
				"replayed":   after.Balance,
			})
		}
	}

	j.log.Info().Int("accounts", len(all)).Int("drifted", drifted).Msg("Integrity sweep complete")
	return nil
}
