package referral

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenvest/engine/internal/journal"
	"github.com/havenvest/engine/internal/ledger"
	"github.com/havenvest/engine/internal/models"
	"github.com/havenvest/engine/internal/notify"
	"github.com/havenvest/engine/internal/store/memstore"
)

func newTestEngine(t *testing.T) (*Engine, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	log := zerolog.Nop()
	l := ledger.New(st.Wallets, log)
	j := journal.New(st.Transactions, log)
	return New(st.Users, l, j, notify.NewLogNotifier(log), log), st
}

func TestCreditReferral(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	user := models.User{Email: "ref@example.com"}
	user.ID = 1
	referrer := st.SeedUser(user)

	tx, err := e.CreditReferral(ctx, referrer.ID, 250, models.CurrencyNaira, 7)
	require.NoError(t, err)

	t.Run("journal entry settled", func(t *testing.T) {
		assert.Equal(t, models.TxTypeReferral, tx.Type)
		assert.True(t, tx.Automated)
		require.NotNil(t, tx.InvestmentID)
		assert.Equal(t, uint(7), *tx.InvestmentID)

		got, err := st.Transactions.Get(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusSuccess, got.Status)
	})

	t.Run("profit wallet credited", func(t *testing.T) {
		wallet, err := st.Wallets.Get(ctx, referrer.ID, models.WalletKindProfit)
		require.NoError(t, err)
		assert.Equal(t, 250.0, wallet.BalanceNaira)
		assert.Equal(t, 250.0, wallet.TotalReferralEarnings)
	})

	t.Run("referral stats advanced", func(t *testing.T) {
		user, err := st.Users.Get(ctx, referrer.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, user.ReferralCount)
		assert.Equal(t, 250.0, user.ReferralEarnings)
	})
}

func TestCanWithdrawBonus(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

	makeEngine := func(t *testing.T, u models.User) (*Engine, uint) {
		e, st := newTestEngine(t)
		u.ID = 1
		st.SeedUser(u)
		e.now = func() time.Time { return now }
		return e, u.ID
	}

	t.Run("no active investment yet", func(t *testing.T) {
		e, id := makeEngine(t, models.User{})
		elig, err := e.CanWithdrawBonus(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, elig.Eligible)
		assert.Equal(t, WaitDays, elig.DaysLeft)
	})

	t.Run("waiting on first investment", func(t *testing.T) {
		first := now.AddDate(0, 0, -10)
		e, id := makeEngine(t, models.User{FirstActiveInvestmentAt: &first})
		elig, err := e.CanWithdrawBonus(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, elig.Eligible)
		assert.Equal(t, 5, elig.DaysLeft)
		assert.Equal(t, first.AddDate(0, 0, WaitDays), elig.NextWithdrawalDate)
	})

	t.Run("wait elapsed", func(t *testing.T) {
		first := now.AddDate(0, 0, -WaitDays)
		e, id := makeEngine(t, models.User{FirstActiveInvestmentAt: &first})
		elig, err := e.CanWithdrawBonus(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, elig.Eligible)
		assert.Zero(t, elig.DaysLeft)
	})

	t.Run("last withdrawal restarts the clock", func(t *testing.T) {
		first := now.AddDate(0, 0, -60)
		last := now.AddDate(0, 0, -3)
		e, id := makeEngine(t, models.User{FirstActiveInvestmentAt: &first, LastBonusWithdrawalAt: &last})
		elig, err := e.CanWithdrawBonus(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, elig.Eligible)
		assert.Equal(t, 12, elig.DaysLeft)
		assert.Equal(t, last.AddDate(0, 0, WaitDays), elig.NextWithdrawalDate)
	})

	t.Run("unknown user", func(t *testing.T) {
		e, _ := newTestEngine(t)
		_, err := e.CanWithdrawBonus(context.Background(), 404)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestRecordWithdrawal(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	user := models.User{}
	user.ID = 1
	st.SeedUser(user)

	stamp := time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return stamp }

	require.NoError(t, e.RecordWithdrawal(ctx, 1, 120))
	got, err := st.Users.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got.LastBonusWithdrawalAt)
	assert.Equal(t, stamp, *got.LastBonusWithdrawalAt)
	assert.Equal(t, 120.0, got.TotalBonusWithdrawn)
}
