package domain

import "time"

// Currency represents a currency code
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
)

// TransactionKind classifies a cash movement.
type TransactionKind string

const (
	KindDeposit  TransactionKind = "DEPOSIT"
	KindWithdraw TransactionKind = "WITHDRAW"
	KindTransfer TransactionKind = "TRANSFER"
)

// AssetClass identifies the instrument family of a trade.
type AssetClass string

const (
	AssetFX     AssetClass = "FX"
	AssetStock  AssetClass = "STOCK"
	AssetBond   AssetClass = "BOND"
	AssetCrypto AssetClass = "CRYPTO"
	AssetETF    AssetClass = "ETF"
)

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	StatusOpen   TradeStatus = "OPEN"
	StatusClosed TradeStatus = "CLOSED"
)

// TradeDirection is the side of a trade.
type TradeDirection string

const (
	DirectionLong  TradeDirection = "LONG"
	DirectionShort TradeDirection = "SHORT"
)

// User represents an authenticated owner of accounts.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Account represents a financial account. Balance is a derived cache: only
// the recalculation engine may write it.
type Account struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"-"`
	Name           string    `json:"name"`
	Currency       Currency  `json:"currency"`
	InitialBalance float64   `json:"initial_balance"`
	Balance        float64   `json:"balance"`
	IsLiquid       bool      `json:"is_liquid"`
	CreatedAt      time.Time `json:"created_at"`
}

// Transaction represents a deposit, withdrawal, or transfer between accounts.
type Transaction struct {
	ID            int64           `json:"id"`
	Kind          TransactionKind `json:"kind"`
	Amount        float64         `json:"amount"`
	Currency      Currency        `json:"currency"`
	ExecutedAt    time.Time       `json:"executed_at"`
	FromAccountID *int64          `json:"from_account_id,omitempty"`
	ToAccountID   *int64          `json:"to_account_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Validate enforces the per-kind account reference invariants.
func (t *Transaction) Validate() error {
	if t.Amount <= 0 {
		return invalid("amount", "must be positive")
	}
	switch t.Kind {
	case KindDeposit:
		if t.ToAccountID == nil {
			return invalid("to_account_id", "required for DEPOSIT")
		}
	case KindWithdraw:
		if t.FromAccountID == nil {
			return invalid("from_account_id", "required for WITHDRAW")
		}
	case KindTransfer:
		if t.FromAccountID == nil || t.ToAccountID == nil {
			return invalid("kind", "TRANSFER requires both from_account_id and to_account_id")
		}
		if *t.FromAccountID == *t.ToAccountID {
			return invalid("to_account_id", "transfer accounts must differ")
		}
	default:
		return invalid("kind", "must be DEPOSIT, WITHDRAW or TRANSFER")
	}
	return nil
}

// SignedAmount returns the effect of this transaction on the given account:
// positive for the incoming leg, negative for the outgoing leg, zero if the
// account is not involved.
func (t *Transaction) SignedAmount(accountID int64) float64 {
	var effect float64
	if t.FromAccountID != nil && *t.FromAccountID == accountID {
		effect -= t.Amount
	}
	if t.ToAccountID != nil && *t.ToAccountID == accountID {
		effect += t.Amount
	}
	return effect
}

// Accounts returns the distinct account ids this transaction touches.
func (t *Transaction) Accounts() []int64 {
	var ids []int64
	if t.FromAccountID != nil {
		ids = append(ids, *t.FromAccountID)
	}
	if t.ToAccountID != nil && (t.FromAccountID == nil || *t.ToAccountID != *t.FromAccountID) {
		ids = append(ids, *t.ToAccountID)
	}
	return ids
}

// Trade represents a single trade on one account. OpeningBalance and
// RealizedPL are derived fields written only by the recalculation engine;
// RealizedPL stays nil while the trade is OPEN.
type Trade struct {
	ID             int64          `json:"id"`
	AccountID      int64          `json:"account_id"`
	AssetClass     AssetClass     `json:"asset_class"`
	Status         TradeStatus    `json:"status"`
	Direction      TradeDirection `json:"direction"`
	Symbol         string         `json:"symbol,omitempty"`
	Fees           float64        `json:"fees"`
	EntryAt        time.Time      `json:"entry_at"`
	ExitAt         *time.Time     `json:"exit_at,omitempty"`
	Pattern        string         `json:"pattern,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	ExternalRef    string         `json:"external_ref,omitempty"`
	OpeningBalance *float64       `json:"opening_balance,omitempty"`
	RealizedPL     *float64       `json:"realized_pl,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`

	Payload *TradePayload `json:"payload,omitempty"`
}

// TradePayload holds the asset-specific fields of a trade. Exactly one of
// AmountGain or PercentageGain may be set; a payload with neither is a
// zero-gain trade.
type TradePayload struct {
	TradeID        int64      `json:"-"`
	AssetClass     AssetClass `json:"-"`
	AmountGain     *float64   `json:"amount_gain,omitempty"`
	PercentageGain *float64   `json:"percentage_gain,omitempty"`
	Lots           *float64   `json:"lots,omitempty"`
	Quantity       *float64   `json:"quantity,omitempty"`
	EntryPrice     *float64   `json:"entry_price,omitempty"`
	ExitPrice      *float64   `json:"exit_price,omitempty"`
	PipGain        *float64   `json:"pip_gain,omitempty"`
	CouponRate     *float64   `json:"coupon_rate,omitempty"`
}

// Validate enforces trade invariants, including gain exclusivity.
func (t *Trade) Validate() error {
	switch t.AssetClass {
	case AssetFX, AssetStock, AssetBond, AssetCrypto, AssetETF:
	default:
		return invalid("asset_class", "must be FX, STOCK, BOND, CRYPTO or ETF")
	}
	switch t.Status {
	case StatusOpen, StatusClosed:
	default:
		return invalid("status", "must be OPEN or CLOSED")
	}
	switch t.Direction {
	case DirectionLong, DirectionShort:
	default:
		return invalid("direction", "must be LONG or SHORT")
	}
	if t.Fees < 0 {
		return invalid("fees", "must not be negative")
	}
	if t.EntryAt.IsZero() {
		return invalid("entry_at", "required")
	}
	if t.Payload == nil {
		return invalid("payload", "required")
	}
	if t.Payload.AmountGain != nil && t.Payload.PercentageGain != nil {
		return invalid("payload", "amount_gain and percentage_gain are mutually exclusive")
	}
	return nil
}
