package insights

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/akontos/tradeledger/internal/domain"
	"github.com/akontos/tradeledger/internal/modules/accounts"
	"github.com/akontos/tradeledger/internal/modules/trades"
	"github.com/akontos/tradeledger/pkg/formulas"
)

// Session labels inferred from a trade's entry hour. Anchored to UTC so the
// label never depends on server or account locale.
const (
	SessionLondon  = "London"
	SessionNewYork = "New York"
	SessionOther   = "Other"
)

// Bucket is one row of a grouped statistics report.
type Bucket struct {
	Key          string  `json:"key"`
	Count        int     `json:"count"`
	Wins         int     `json:"wins"`
	WinRate      float64 `json:"win_rate"`
	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"`
	NetPL        float64 `json:"net_pl"`
	ProfitFactor float64 `json:"profit_factor"`
	AvgReturn    float64 `json:"avg_return"`
	ReturnStdDev float64 `json:"return_std_dev"`
}

// Summary is the account-wide view.
type Summary struct {
	AccountID    int64   `json:"account_id"`
	Balance      float64 `json:"balance"`
	ClosedTrades int     `json:"closed_trades"`
	Wins         int     `json:"wins"`
	WinRate      float64 `json:"win_rate"`
	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"`
	NetPL        float64 `json:"net_pl"`
	ProfitFactor float64 `json:"profit_factor"`
}

// Service computes read-only statistics over the settled ledger. It never
// mutates derived fields; a recalculation has always completed before these
// queries run, because mutations are synchronous.
type Service struct {
	trades   *trades.Repository
	accounts *accounts.Repository
	log      zerolog.Logger
}

// NewService creates a new insights service
func NewService(tradesRepo *trades.Repository, accountsRepo *accounts.Repository, log zerolog.Logger) *Service {
	return &Service{
		trades:   tradesRepo,
		accounts: accountsRepo,
		log:      log.With().Str("service", "insights").Logger(),
	}
}

// Summary returns account-wide statistics over closed trades.
func (s *Service) Summary(userID, accountID int64) (*Summary, error) {
	account, err := s.accounts.GetOwned(accountID, userID)
	if err != nil {
		return nil, err
	}
	settled, err := s.settledTrades(accountID)
	if err != nil {
		return nil, err
	}

	out := &Summary{AccountID: accountID, Balance: account.Balance, ClosedTrades: len(settled)}
	for _, t := range settled {
		pl := *t.RealizedPL
		out.NetPL += pl
		if pl > 0 {
			out.Wins++
			out.GrossProfit += pl
		} else {
			out.GrossLoss += -pl
		}
	}
	out.WinRate = formulas.WinRate(out.Wins, out.ClosedTrades)
	out.ProfitFactor = formulas.ProfitFactor(out.GrossProfit, out.GrossLoss)
	return out, nil
}

// ByInstrument groups closed trades by symbol.
func (s *Service) ByInstrument(userID, accountID int64) ([]Bucket, error) {
	return s.group(userID, accountID, func(t *domain.Trade) string {
		if t.Symbol == "" {
			return "UNKNOWN"
		}
		return t.Symbol
	})
}

// ByDirection groups closed trades by LONG/SHORT.
func (s *Service) ByDirection(userID, accountID int64) ([]Bucket, error) {
	return s.group(userID, accountID, func(t *domain.Trade) string {
		return string(t.Direction)
	})
}

// ByMonth groups closed trades by entry calendar month.
func (s *Service) ByMonth(userID, accountID int64) ([]Bucket, error) {
	return s.group(userID, accountID, func(t *domain.Trade) string {
		return t.EntryAt.UTC().Format("2006-01")
	})
}

// BySession groups closed trades by trading session.
func (s *Service) BySession(userID, accountID int64) ([]Bucket, error) {
	return s.group(userID, accountID, func(t *domain.Trade) string {
		return SessionOf(t.EntryAt)
	})
}

// SessionOf labels a timestamp by UTC hour: London 07-12, New York 13-20,
// anything else Other.
func SessionOf(at time.Time) string {
	switch hour := at.UTC().Hour(); {
	case hour >= 7 && hour < 13:
		return SessionLondon
	case hour >= 13 && hour < 21:
		return SessionNewYork
	default:
		return SessionOther
	}
}

func (s *Service) group(userID, accountID int64, keyOf func(*domain.Trade) string) ([]Bucket, error) {
	if _, err := s.accounts.GetOwned(accountID, userID); err != nil {
		return nil, err
	}
	settled, err := s.settledTrades(accountID)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]domain.Trade)
	for _, t := range settled {
		key := keyOf(&t)
		grouped[key] = append(grouped[key], t)
	}

	buckets := make([]Bucket, 0, len(grouped))
	for key, members := range grouped {
		b := Bucket{Key: key, Count: len(members)}
		var returns []float64
		for _, t := range members {
			pl := *t.RealizedPL
			b.NetPL += pl
			if pl > 0 {
				b.Wins++
				b.GrossProfit += pl
			} else {
				b.GrossLoss += -pl
			}
			// Return relative to the trade's own opening balance.
			if t.OpeningBalance != nil && *t.OpeningBalance != 0 {
				returns = append(returns, pl / *t.OpeningBalance)
			}
		}
		b.WinRate = formulas.WinRate(b.Wins, b.Count)
		b.ProfitFactor = formulas.ProfitFactor(b.GrossProfit, b.GrossLoss)
		b.AvgReturn = formulas.Mean(returns)
		b.ReturnStdDev = formulas.StdDev(returns)
		buckets = append(buckets, b)
	}

	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })
	return buckets, nil
}

// settledTrades returns the closed trades that carry a realized P/L.
func (s *Service) settledTrades(accountID int64) ([]domain.Trade, error) {
	all, err := s.trades.ListByAccount(accountID, trades.ListFilter{Status: domain.StatusClosed})
	if err != nil {
		return nil, err
	}
	settled := all[:0]
	for _, t := range all {
		if t.RealizedPL != nil {
			settled = append(settled, t)
		}
	}
	return settled, nil
}
