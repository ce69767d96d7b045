package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenvest/engine/internal/models"
	"github.com/havenvest/engine/internal/store/memstore"
)

func newTestLedger(t *testing.T) (*Ledger, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	return New(st.Wallets, zerolog.Nop()), st
}

func TestDepositAndBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	wallet, err := l.Deposit(ctx, 1, models.CurrencyNaira, 5000)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, wallet.BalanceNaira)
	assert.Equal(t, 5000.0, wallet.TotalDeposits)

	balance, err := l.Balance(ctx, 1, models.WalletKindMain, models.CurrencyNaira)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, balance)

	// Untouched currency and untouched wallet both read as zero.
	balance, err = l.Balance(ctx, 1, models.WalletKindMain, models.CurrencyUSDT)
	require.NoError(t, err)
	assert.Zero(t, balance)

	balance, err = l.Balance(ctx, 99, models.WalletKindProfit, models.CurrencyNaira)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestWithdraw(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Deposit(ctx, 1, models.CurrencyNaira, 1000)
	require.NoError(t, err)

	t.Run("covers balance", func(t *testing.T) {
		wallet, err := l.Withdraw(ctx, 1, models.CurrencyNaira, 400)
		require.NoError(t, err)
		assert.Equal(t, 600.0, wallet.BalanceNaira)
		assert.Equal(t, 400.0, wallet.TotalWithdrawals)
	})

	t.Run("overdraw refused", func(t *testing.T) {
		_, err := l.Withdraw(ctx, 1, models.CurrencyNaira, 601)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		var short *InsufficientFundsError
		require.ErrorAs(t, err, &short)
		assert.Equal(t, 600.0, short.Available)
		assert.Equal(t, 601.0, short.Required)
	})

	t.Run("balance unchanged after refusal", func(t *testing.T) {
		balance, err := l.Balance(ctx, 1, models.WalletKindMain, models.CurrencyNaira)
		require.NoError(t, err)
		assert.Equal(t, 600.0, balance)
	})
}

func TestAmountValidation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Deposit(ctx, 1, models.CurrencyNaira, 0)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = l.Withdraw(ctx, 1, models.CurrencyNaira, -5)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	err = l.Transfer(ctx, 1, models.WalletKindMain, models.WalletKindProfit, models.CurrencyNaira, 0)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = l.HasSufficientFunds(ctx, 1, models.WalletKindMain, models.CurrencyNaira, -1)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)
}

func TestUnknownCurrency(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Deposit(ctx, 1, "doge", 100)
	assert.ErrorIs(t, err, ErrUnknownCurrency)

	_, err = l.Balance(ctx, 1, models.WalletKindMain, "doge")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestTransfer(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Credit(ctx, 1, models.WalletKindProfit, models.CurrencyUSDT, 200, models.TotalEarnings)
	require.NoError(t, err)

	t.Run("moves funds without touching totals", func(t *testing.T) {
		err := l.Transfer(ctx, 1, models.WalletKindProfit, models.WalletKindMain, models.CurrencyUSDT, 150)
		require.NoError(t, err)

		from, err := l.Wallet(ctx, 1, models.WalletKindProfit)
		require.NoError(t, err)
		to, err := l.Wallet(ctx, 1, models.WalletKindMain)
		require.NoError(t, err)
		assert.Equal(t, 50.0, from.BalanceUSDT)
		assert.Equal(t, 150.0, to.BalanceUSDT)
		assert.Zero(t, to.TotalDeposits)
		assert.Zero(t, from.TotalWithdrawals)
	})

	t.Run("same wallet refused", func(t *testing.T) {
		err := l.Transfer(ctx, 1, models.WalletKindMain, models.WalletKindMain, models.CurrencyUSDT, 10)
		assert.ErrorIs(t, err, ErrSameWallet)
	})

	t.Run("short source refused", func(t *testing.T) {
		err := l.Transfer(ctx, 1, models.WalletKindProfit, models.WalletKindMain, models.CurrencyUSDT, 51)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})
}

func TestHasSufficientFunds(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Deposit(ctx, 1, models.CurrencyNaira, 300)
	require.NoError(t, err)

	ok, err := l.HasSufficientFunds(ctx, 1, models.WalletKindMain, models.CurrencyNaira, 300)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.HasSufficientFunds(ctx, 1, models.WalletKindMain, models.CurrencyNaira, 300.01)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreFailureWrapped(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	boom := errors.New("connection reset")
	st.FailCredit(boom)
	_, err := l.Deposit(ctx, 1, models.CurrencyNaira, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
