package retry

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

func newTestProcessor(t *testing.T, now time.Time) (*Processor, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	log := zerolog.Nop()
	l := ledger.New(st.Wallets, log)
	j := journal.New(st.Transactions, log)
	p := New(st.Transactions, j, l, notify.NewLogNotifier(log), log)
	p.now = func() time.Time { return now }
	return p, st
}

func seedPending(st *memstore.Store, txType string, amount float64, age time.Duration, now time.Time) *models.Transaction {
	tx := models.Transaction{
		UserID:    1,
		Type:      txType,
		Status:    models.TxStatusPending,
		Amount:    amount,
		Currency:  models.CurrencyNaira,
		Reference: "ref-" + txType + "-" + age.String(),
	}
	tx.CreatedAt = now.Add(-age)
	return st.SeedTransaction(tx)
}

func TestDepositCompletion(t *testing.T) {
	now := time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)
	p, st := newTestProcessor(t, now)
	ctx := context.Background()

	tx := seedPending(st, models.TxTypeDeposit, 1000, time.Hour, now)
	tx.Fee = 25
	st.SeedTransaction(*tx)

	require.NoError(t, p.Run(ctx))

	got, err := st.Transactions.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusSuccess, got.Status)
	require.NotNil(t, got.ProcessedAt)

	// The net amount lands in the main wallet.
	wallet, err := st.Wallets.Get(ctx, 1, models.WalletKindMain)
	require.NoError(t, err)
	assert.Equal(t, 975.0, wallet.BalanceNaira)
	assert.Equal(t, 975.0, wallet.TotalDeposits)
}

func TestWithdrawalCompletion(t *testing.T) {
	now := time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)
	p, st := newTestProcessor(t, now)
	ctx := context.Background()

	_, err := st.Wallets.Credit(ctx, 1, models.WalletKindMain, models.CurrencyNaira, 5000, models.TotalDeposits, now)
	require.NoError(t, err)
	tx := seedPending(st, models.TxTypeWithdrawal, 2000, time.Hour, now)

	require.NoError(t, p.Run(ctx))

	got, err := st.Transactions.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusSuccess, got.Status)

	wallet, err := st.Wallets.Get(ctx, 1, models.WalletKindMain)
	require.NoError(t, err)
	assert.Equal(t, 3000.0, wallet.BalanceNaira)
	assert.Equal(t, 2000.0, wallet.TotalWithdrawals)
}

func TestMinimumAgeGate(t *testing.T) {
	now := time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)
	p, st := newTestProcessor(t, now)
	ctx := context.Background()

	young := seedPending(st, models.TxTypeDeposit, 100, 10*time.Minute, now)

	require.NoError(t, p.Run(ctx))

	got, err := st.Transactions.Get(ctx, young.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusPending, got.Status)
}

func TestOverdueTimeout(t *testing.T) {
	now := time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)
	p, st := newTestProcessor(t, now)
	ctx := context.Background()

	// Funded or not, an entry pending past a day is failed outright.
	stale := seedPending(st, models.TxTypeWithdrawal, 100, 25*time.Hour, now)

	require.NoError(t, p.Run(ctx))

	got, err := st.Transactions.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusFailed, got.Status)
	assert.Equal(t, "timeout", got.FailReason)
}

func TestRetryBackoffAndExhaustion(t *testing.T) {
	now := time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)
	p, st := newTestProcessor(t, now)
	ctx := context.Background()

	// A withdrawal with no funds behind it fails its completion routine.
	tx := seedPending(st, models.TxTypeWithdrawal, 100, time.Hour, now)

	t.Run("first failure schedules a retry", func(t *testing.T) {
		require.NoError(t, p.Run(ctx))
		got, err := st.Transactions.Get(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusPending, got.Status)
		assert.Equal(t, 1, got.RetryCount)
		require.NotNil(t, got.NextRetryAt)
		assert.Equal(t, now.Add(models.RetryBackoff), *got.NextRetryAt)
	})

	t.Run("not picked up before next retry time", func(t *testing.T) {
		require.NoError(t, p.Run(ctx))
		got, err := st.Transactions.Get(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.RetryCount)
	})

	t.Run("backoff grows with retry count", func(t *testing.T) {
		p.now = func() time.Time { return now.Add(31 * time.Minute) }
		require.NoError(t, p.Run(ctx))
		got, err := st.Transactions.Get(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.RetryCount)
		require.NotNil(t, got.NextRetryAt)
		assert.Equal(t, now.Add(31*time.Minute).Add(2*models.RetryBackoff), *got.NextRetryAt)
	})

	t.Run("third failure exhausts retries", func(t *testing.T) {
		p.now = func() time.Time { return now.Add(2 * time.Hour) }
		require.NoError(t, p.Run(ctx))
		got, err := st.Transactions.Get(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusFailed, got.Status)
		assert.Contains(t, got.FailReason, "insufficient funds")
		// The attempt that exhausted the retries is counted too.
		assert.Equal(t, models.MaxRetryCount, got.RetryCount)
	})
}

func TestUnhandledTypeLeftPending(t *testing.T) {
	now := time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)
	p, st := newTestProcessor(t, now)
	ctx := context.Background()

	tx := seedPending(st, models.TxTypeTransfer, 100, time.Hour, now)

	require.NoError(t, p.Run(ctx))

	got, err := st.Transactions.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusPending, got.Status)
	assert.Zero(t, got.RetryCount)
}

func TestPriorityOrdering(t *testing.T) {
	now := time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)
	_, st := newTestProcessor(t, now)
	ctx := context.Background()

	low := seedPending(st, models.TxTypeDeposit, 100, 2*time.Hour, now)
	high := seedPending(st, models.TxTypeROI, 10, time.Hour, now)
	high.Priority = 8
	st.SeedTransaction(*high)
	low.Priority = 5
	st.SeedTransaction(*low)

	pending, err := st.Transactions.ListPendingDue(ctx, now.Add(-models.RetryAgeMinimum), now)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, high.ID, pending[0].ID)
	assert.Equal(t, low.ID, pending[1].ID)
}
