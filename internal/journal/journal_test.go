package journal

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenvest/engine/internal/models"
	"github.com/havenvest/engine/internal/store"
	"github.com/havenvest/engine/internal/store/memstore"
)

func newTestJournal(t *testing.T) (*Journal, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	return New(st.Transactions, zerolog.Nop()), st
}

func TestAppend(t *testing.T) {
	j, _ := newTestJournal(t)
	ctx := context.Background()

	tx, err := j.Append(ctx, Entry{
		UserID:      1,
		Type:        models.TxTypeDeposit,
		Amount:      2500,
		Currency:    models.CurrencyNaira,
		Description: "card deposit",
	})
	require.NoError(t, err)
	assert.NotZero(t, tx.ID)
	assert.Equal(t, models.TxStatusPending, tx.Status)
	assert.Len(t, tx.Reference, 36)
	assert.Equal(t, 5, tx.Priority)

	// References are unique per entry.
	other, err := j.Append(ctx, Entry{UserID: 1, Type: models.TxTypeDeposit, Amount: 1, Currency: models.CurrencyNaira})
	require.NoError(t, err)
	assert.NotEqual(t, tx.Reference, other.Reference)
}

func TestDerivePriority(t *testing.T) {
	cases := []struct {
		name   string
		txType string
		amount float64
		want   int
	}{
		{"large withdrawal", models.TxTypeWithdrawal, 500_001, 10},
		{"small withdrawal", models.TxTypeWithdrawal, 500_000, 5},
		{"large deposit", models.TxTypeDeposit, 1_000_001, 9},
		{"small deposit", models.TxTypeDeposit, 1_000_000, 5},
		{"roi", models.TxTypeROI, 10, 8},
		{"investment", models.TxTypeInvestment, 2_000_000, 7},
		{"referral", models.TxTypeReferral, 50, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, derivePriority(tc.txType, tc.amount))
		})
	}
}

func TestSettlement(t *testing.T) {
	j, _ := newTestJournal(t)
	ctx := context.Background()

	append := func() *models.Transaction {
		tx, err := j.Append(ctx, Entry{UserID: 1, Type: models.TxTypeDeposit, Amount: 100, Currency: models.CurrencyNaira})
		require.NoError(t, err)
		return tx
	}

	t.Run("success", func(t *testing.T) {
		tx := append()
		require.NoError(t, j.MarkSuccess(ctx, tx.ID))
		got, err := j.Get(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusSuccess, got.Status)
		require.NotNil(t, got.ProcessedAt)
	})

	t.Run("failed", func(t *testing.T) {
		tx := append()
		require.NoError(t, j.MarkFailed(ctx, tx.ID, "gateway timeout"))
		got, err := j.Get(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusFailed, got.Status)
		assert.Equal(t, "gateway timeout", got.FailReason)
		require.NotNil(t, got.FailedAt)
	})

	t.Run("exhausted", func(t *testing.T) {
		tx := append()
		require.NoError(t, j.MarkExhausted(ctx, tx.ID, "insufficient funds", 3))
		got, err := j.Get(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusFailed, got.Status)
		assert.Equal(t, 3, got.RetryCount)
		require.NotNil(t, got.FailedAt)
	})

	t.Run("cancelled", func(t *testing.T) {
		tx := append()
		require.NoError(t, j.MarkCancelled(ctx, tx.ID, "user abandoned"))
		got, err := j.Get(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusCancelled, got.Status)
		require.NotNil(t, got.CancelledAt)
	})

	t.Run("terminal entries are immutable", func(t *testing.T) {
		tx := append()
		require.NoError(t, j.MarkSuccess(ctx, tx.ID))
		assert.ErrorIs(t, j.MarkFailed(ctx, tx.ID, "late failure"), ErrAlreadyTerminal)
		assert.ErrorIs(t, j.MarkSuccess(ctx, tx.ID), ErrAlreadyTerminal)
	})

	t.Run("missing entry", func(t *testing.T) {
		assert.ErrorIs(t, j.MarkSuccess(ctx, 9999), ErrNotFound)
	})
}

func TestRetryReset(t *testing.T) {
	j, st := newTestJournal(t)
	ctx := context.Background()

	tx, err := j.Append(ctx, Entry{UserID: 1, Type: models.TxTypeWithdrawal, Amount: 100, Currency: models.CurrencyNaira})
	require.NoError(t, err)

	t.Run("only failed entries reset", func(t *testing.T) {
		assert.ErrorIs(t, j.Retry(ctx, tx.ID), ErrNotFailed)
	})

	require.NoError(t, j.MarkFailed(ctx, tx.ID, "provider down"))

	t.Run("reset returns entry to pending", func(t *testing.T) {
		require.NoError(t, j.Retry(ctx, tx.ID))
		got, err := j.Get(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusPending, got.Status)
		assert.Equal(t, 1, got.RetryCount)
		assert.Nil(t, got.NextRetryAt)
		assert.Nil(t, got.FailedAt)
		assert.Empty(t, got.FailReason)
	})

	t.Run("exhausted retries refuse reset", func(t *testing.T) {
		exhausted := st.SeedTransaction(models.Transaction{
			UserID:     1,
			Type:       models.TxTypeWithdrawal,
			Status:     models.TxStatusFailed,
			Amount:     50,
			Currency:   models.CurrencyNaira,
			Reference:  "tx-exhausted",
			RetryCount: models.MaxRetryCount,
		})
		assert.ErrorIs(t, j.Retry(ctx, exhausted.ID), ErrRetriesExhausted)
	})
}

func TestMarkReversed(t *testing.T) {
	j, _ := newTestJournal(t)
	ctx := context.Background()

	tx, err := j.Append(ctx, Entry{UserID: 1, Type: models.TxTypeDeposit, Amount: 100, Currency: models.CurrencyNaira})
	require.NoError(t, err)

	t.Run("pending entries cannot be reversed", func(t *testing.T) {
		assert.ErrorIs(t, j.MarkReversed(ctx, tx.ID, "dup", nil), ErrNotTerminal)
	})

	require.NoError(t, j.MarkSuccess(ctx, tx.ID))

	t.Run("terminal entry marked", func(t *testing.T) {
		admin := uint(42)
		require.NoError(t, j.MarkReversed(ctx, tx.ID, "duplicate deposit", &admin))
		got, err := j.Get(ctx, tx.ID)
		require.NoError(t, err)
		assert.True(t, got.Reversed)
		assert.Equal(t, "duplicate deposit", got.ReversalReason)
		require.NotNil(t, got.ReversedByID)
		assert.Equal(t, admin, *got.ReversedByID)
	})
}

func TestListFilters(t *testing.T) {
	j, _ := newTestJournal(t)
	ctx := context.Background()

	for _, e := range []Entry{
		{UserID: 1, Type: models.TxTypeDeposit, Amount: 100, Currency: models.CurrencyNaira},
		{UserID: 1, Type: models.TxTypeWithdrawal, Amount: 50, Currency: models.CurrencyNaira},
		{UserID: 2, Type: models.TxTypeDeposit, Amount: 75, Currency: models.CurrencyUSDT},
	} {
		_, err := j.Append(ctx, e)
		require.NoError(t, err)
	}

	entries, err := j.List(ctx, store.TxFilter{UserID: 1}, store.Page{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = j.List(ctx, store.TxFilter{Type: models.TxTypeDeposit, Currency: models.CurrencyUSDT}, store.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint(2), entries[0].UserID)
}
