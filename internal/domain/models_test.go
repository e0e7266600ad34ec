package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64 {
	return &v
}

func f64(v float64) *float64 {
	return &v
}

func TestTransactionValidate(t *testing.T) {
	tests := []struct {
		name    string
		tx      Transaction
		wantErr bool
	}{
		{
			name: "valid deposit",
			tx:   Transaction{Kind: KindDeposit, Amount: 100, ToAccountID: i64(1)},
		},
		{
			name:    "deposit without target",
			tx:      Transaction{Kind: KindDeposit, Amount: 100},
			wantErr: true,
		},
		{
			name: "valid withdraw",
			tx:   Transaction{Kind: KindWithdraw, Amount: 50, FromAccountID: i64(1)},
		},
		{
			name:    "withdraw without source",
			tx:      Transaction{Kind: KindWithdraw, Amount: 50},
			wantErr: true,
		},
		{
			name: "valid transfer",
			tx:   Transaction{Kind: KindTransfer, Amount: 25, FromAccountID: i64(1), ToAccountID: i64(2)},
		},
		{
			name:    "transfer missing one leg",
			tx:      Transaction{Kind: KindTransfer, Amount: 25, FromAccountID: i64(1)},
			wantErr: true,
		},
		{
			name:    "transfer to itself",
			tx:      Transaction{Kind: KindTransfer, Amount: 25, FromAccountID: i64(1), ToAccountID: i64(1)},
			wantErr: true,
		},
		{
			name:    "zero amount",
			tx:      Transaction{Kind: KindDeposit, Amount: 0, ToAccountID: i64(1)},
			wantErr: true,
		},
		{
			name:    "negative amount",
			tx:      Transaction{Kind: KindWithdraw, Amount: -10, FromAccountID: i64(1)},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			tx:      Transaction{Kind: "REBATE", Amount: 10, ToAccountID: i64(1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			if tt.wantErr {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransactionSignedAmount(t *testing.T) {
	transfer := Transaction{Kind: KindTransfer, Amount: 300, FromAccountID: i64(1), ToAccountID: i64(2)}

	assert.Equal(t, -300.0, transfer.SignedAmount(1))
	assert.Equal(t, 300.0, transfer.SignedAmount(2))
	assert.Equal(t, 0.0, transfer.SignedAmount(3))

	deposit := Transaction{Kind: KindDeposit, Amount: 100, ToAccountID: i64(5)}
	assert.Equal(t, 100.0, deposit.SignedAmount(5))
}

func TestTransactionAccounts(t *testing.T) {
	transfer := Transaction{Kind: KindTransfer, Amount: 1, FromAccountID: i64(1), ToAccountID: i64(2)}
	assert.Equal(t, []int64{1, 2}, transfer.Accounts())

	deposit := Transaction{Kind: KindDeposit, Amount: 1, ToAccountID: i64(7)}
	assert.Equal(t, []int64{7}, deposit.Accounts())
}

func validTrade() Trade {
	return Trade{
		AccountID:  1,
		AssetClass: AssetFX,
		Status:     StatusClosed,
		Direction:  DirectionLong,
		EntryAt:    time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		Payload:    &TradePayload{PercentageGain: f64(0.05)},
	}
}

func TestTradeValidate(t *testing.T) {
	trade := validTrade()
	assert.NoError(t, trade.Validate())

	trade = validTrade()
	trade.AssetClass = "FUTURES"
	assert.Error(t, trade.Validate())

	trade = validTrade()
	trade.Status = "PENDING"
	assert.Error(t, trade.Validate())

	trade = validTrade()
	trade.Direction = "FLAT"
	assert.Error(t, trade.Validate())

	trade = validTrade()
	trade.Fees = -1
	assert.Error(t, trade.Validate())

	trade = validTrade()
	trade.EntryAt = time.Time{}
	assert.Error(t, trade.Validate())

	trade = validTrade()
	trade.Payload = nil
	assert.Error(t, trade.Validate())
}

func TestTradeValidate_GainExclusivity(t *testing.T) {
	trade := validTrade()
	trade.Payload = &TradePayload{AmountGain: f64(100), PercentageGain: f64(0.10)}
	assert.Error(t, trade.Validate())

	// Neither gain field is a legal zero-gain trade.
	trade.Payload = &TradePayload{}
	assert.NoError(t, trade.Validate())
}
