package accrual

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenvest/engine/internal/journal"
	"github.com/havenvest/engine/internal/models"
	"github.com/havenvest/engine/internal/notify"
	"github.com/havenvest/engine/internal/store"
	"github.com/havenvest/engine/internal/store/memstore"
)

func newTestRunner(t *testing.T, now time.Time) (*Runner, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	log := zerolog.Nop()
	j := journal.New(st.Transactions, log)
	r := New(st.Investments, j, notify.NewLogNotifier(log), log)
	r.now = func() time.Time { return now }
	return r, st
}

// seedActive inserts an active 30-day, 2.4%-daily investment of 10,000 whose
// accrual window came due an hour ago.
func seedActive(st *memstore.Store, now time.Time) *models.Investment {
	return st.SeedInvestment(models.Investment{
		UserID:        1,
		PlanID:        1,
		Amount:        10000,
		Currency:      models.CurrencyNaira,
		DailyROI:      2.4,
		DurationDays:  30,
		StartDate:     now.AddDate(0, 0, -5),
		EndDate:       now.AddDate(0, 0, 25),
		Status:        models.InvestmentStatusActive,
		NextAccrualAt: now.Add(-time.Hour),
	})
}

func TestHourlyAccrual(t *testing.T) {
	now := time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)
	r, st := newTestRunner(t, now)
	ctx := context.Background()
	inv := seedActive(st, now)

	// daily 240, hourly 10
	require.NoError(t, r.ProcessInvestment(ctx, inv.ID))

	t.Run("window advanced", func(t *testing.T) {
		got, err := st.Investments.Get(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, 10.0, got.EarnedAmount)
		require.NotNil(t, got.LastAccrualAt)
		assert.Equal(t, now, *got.LastAccrualAt)
		assert.Equal(t, now.Add(time.Hour), got.NextAccrualAt)
		assert.Equal(t, models.InvestmentStatusActive, got.Status)
	})

	t.Run("profit wallet credited", func(t *testing.T) {
		wallet, err := st.Wallets.Get(ctx, 1, models.WalletKindProfit)
		require.NoError(t, err)
		assert.Equal(t, 10.0, wallet.BalanceNaira)
		assert.Equal(t, 10.0, wallet.TotalEarnings)
	})

	t.Run("hourly journal entry", func(t *testing.T) {
		entries, err := st.Transactions.List(ctx, store.TxFilter{UserID: 1, Type: models.TxTypeROI}, store.Page{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, models.TxSubtypeHourly, entries[0].Subtype)
		assert.Equal(t, 10.0, entries[0].Amount)
		assert.Equal(t, models.TxStatusSuccess, entries[0].Status)
		assert.True(t, entries[0].Automated)
	})

	t.Run("advanced window is not due again", func(t *testing.T) {
		assert.ErrorIs(t, r.ProcessInvestment(ctx, inv.ID), ErrNotClaimed)
		wallet, err := st.Wallets.Get(ctx, 1, models.WalletKindProfit)
		require.NoError(t, err)
		assert.Equal(t, 10.0, wallet.BalanceNaira)
	})
}

func TestDailySummaryAtMidnightRun(t *testing.T) {
	now := time.Date(2026, 4, 10, 0, 10, 0, 0, time.UTC)
	r, st := newTestRunner(t, now)
	ctx := context.Background()
	inv := seedActive(st, now)

	require.NoError(t, r.ProcessInvestment(ctx, inv.ID))

	// The wallet still receives the hourly amount; only the journal entry
	// carries the full daily figure.
	wallet, err := st.Wallets.Get(ctx, 1, models.WalletKindProfit)
	require.NoError(t, err)
	assert.Equal(t, 10.0, wallet.BalanceNaira)

	entries, err := st.Transactions.List(ctx, store.TxFilter{UserID: 1, Type: models.TxTypeROI}, store.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.TxSubtypeDaily, entries[0].Subtype)
	assert.Equal(t, 240.0, entries[0].Amount)
}

func TestCompletionOnMaturity(t *testing.T) {
	now := time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)
	r, st := newTestRunner(t, now)
	ctx := context.Background()

	inv := st.SeedInvestment(models.Investment{
		UserID:        1,
		PlanID:        1,
		Amount:        10000,
		Currency:      models.CurrencyNaira,
		DailyROI:      2.4,
		DurationDays:  30,
		StartDate:     now.AddDate(0, 0, -30),
		EndDate:       now.Add(-time.Minute),
		EarnedAmount:  7190,
		Status:        models.InvestmentStatusActive,
		NextAccrualAt: now.Add(-time.Hour),
	})

	require.NoError(t, r.ProcessInvestment(ctx, inv.ID))

	got, err := st.Investments.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvestmentStatusCompleted, got.Status)
	assert.Equal(t, 7200.0, got.EarnedAmount)

	entries, err := st.Transactions.List(ctx, store.TxFilter{UserID: 1, Type: models.TxTypeROI}, store.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.TxSubtypeCompletion, entries[0].Subtype)
	assert.Equal(t, 10.0, entries[0].Amount)

	// Completed investments accrue nothing further.
	assert.ErrorIs(t, r.ProcessInvestment(ctx, inv.ID), ErrNotClaimed)
}

func TestRun(t *testing.T) {
	now := time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)
	r, st := newTestRunner(t, now)
	ctx := context.Background()

	due := seedActive(st, now)
	notDue := st.SeedInvestment(models.Investment{
		UserID:        2,
		Amount:        5000,
		Currency:      models.CurrencyNaira,
		DailyROI:      1.2,
		EndDate:       now.AddDate(0, 0, 10),
		Status:        models.InvestmentStatusActive,
		NextAccrualAt: now.Add(30 * time.Minute),
	})
	cancelled := st.SeedInvestment(models.Investment{
		UserID:        3,
		Amount:        5000,
		Currency:      models.CurrencyNaira,
		DailyROI:      1.2,
		EndDate:       now.AddDate(0, 0, 10),
		Status:        models.InvestmentStatusCancelled,
		NextAccrualAt: now.Add(-time.Hour),
	})

	require.NoError(t, r.Run(ctx))

	got, err := st.Investments.Get(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.EarnedAmount)

	got, err = st.Investments.Get(ctx, notDue.ID)
	require.NoError(t, err)
	assert.Zero(t, got.EarnedAmount)

	got, err = st.Investments.Get(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Zero(t, got.EarnedAmount)
}

func TestAccrualOverFullDay(t *testing.T) {
	start := time.Date(2026, 4, 10, 3, 0, 0, 0, time.UTC)
	r, st := newTestRunner(t, start)
	ctx := context.Background()

	// 1.5% daily on 10,000 is 150/day, 6.25/hour.
	inv := st.SeedInvestment(models.Investment{
		UserID:        1,
		PlanID:        1,
		Amount:        10000,
		Currency:      models.CurrencyNaira,
		DailyROI:      1.5,
		DurationDays:  30,
		StartDate:     start.AddDate(0, 0, -1),
		EndDate:       start.AddDate(0, 0, 29),
		Status:        models.InvestmentStatusActive,
		NextAccrualAt: start,
	})

	for hour := 0; hour < 24; hour++ {
		r.now = func() time.Time { return start.Add(time.Duration(hour) * time.Hour) }
		require.NoError(t, r.ProcessInvestment(ctx, inv.ID))
	}

	got, err := st.Investments.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.InDelta(t, got.DailyAmount(), got.EarnedAmount, 1e-9)

	wallet, err := st.Wallets.Get(ctx, 1, models.WalletKindProfit)
	require.NoError(t, err)
	assert.InDelta(t, got.DailyAmount(), wallet.BalanceNaira, 1e-9)
	assert.InDelta(t, got.DailyAmount(), wallet.TotalEarnings, 1e-9)
}

func TestRunIsolatesItemFailures(t *testing.T) {
	now := time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)
	r, st := newTestRunner(t, now)
	ctx := context.Background()
	inv := seedActive(st, now)

	st.FailCredit(assert.AnError)
	assert.NoError(t, r.Run(ctx))

	// The failed credit rolled the claim back: nothing earned, window still
	// due, so the next run picks it up again.
	got, err := st.Investments.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Zero(t, got.EarnedAmount)
	assert.Equal(t, now.Add(-time.Hour), got.NextAccrualAt)

	st.FailCredit(nil)
	require.NoError(t, r.Run(ctx))
	got, err = st.Investments.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.EarnedAmount)
}

func TestProcessUnknownInvestment(t *testing.T) {
	now := time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)
	r, _ := newTestRunner(t, now)
	assert.ErrorIs(t, r.ProcessInvestment(context.Background(), 404), ErrNotClaimed)
}
