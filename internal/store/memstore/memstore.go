// Package memstore provides an in-memory implementation of the store
// contracts. It preserves the conditional-write semantics of the gorm
// implementation (claims, capped inserts, balance guards) under a single
// mutex and is used by the service tests.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/havenvest/engine/internal/models"
	"github.com/havenvest/engine/internal/store"
)

type walletKey struct {
	userID uint
	kind   string
}

type core struct {
	mu           sync.Mutex
	wallets      map[walletKey]*models.Wallet
	investments  map[uint]*models.Investment
	transactions map[uint]*models.Transaction
	users        map[uint]*models.User
	plans        map[uint]*models.Plan

	nextWalletID      uint
	nextInvestmentID  uint
	nextTransactionID uint

	// Error injection for failure-path tests. When set, the corresponding
	// operation returns the error instead of mutating state.
	creditErr   error
	debitErr    error
	createTxErr error
}

// Store bundles in-memory implementations of the persistence contracts
// sharing one state.
type Store struct {
	core *core

	Wallets      *Wallets
	Investments  *Investments
	Transactions *Transactions
	Users        *Users
	Plans        *Plans
}

// New creates an empty in-memory store.
func New() *Store {
	c := &core{
		wallets:      make(map[walletKey]*models.Wallet),
		investments:  make(map[uint]*models.Investment),
		transactions: make(map[uint]*models.Transaction),
		users:        make(map[uint]*models.User),
		plans:        make(map[uint]*models.Plan),
	}
	return &Store{
		core:         c,
		Wallets:      &Wallets{c: c},
		Investments:  &Investments{c: c},
		Transactions: &Transactions{c: c},
		Users:        &Users{c: c},
		Plans:        &Plans{c: c},
	}
}

// FailCredit makes subsequent wallet credits fail with err (nil clears).
func (s *Store) FailCredit(err error) {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	s.core.creditErr = err
}

// FailDebit makes subsequent wallet debits fail with err (nil clears).
func (s *Store) FailDebit(err error) {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	s.core.debitErr = err
}

// FailCreateTransaction makes subsequent journal appends fail with err.
func (s *Store) FailCreateTransaction(err error) {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	s.core.createTxErr = err
}

// SeedUser inserts a user record.
func (s *Store) SeedUser(u models.User) *models.User {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	cp := u
	s.core.users[cp.ID] = &cp
	return &cp
}

// SeedPlan inserts a plan record.
func (s *Store) SeedPlan(p models.Plan) *models.Plan {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	cp := p
	s.core.plans[cp.ID] = &cp
	return &cp
}

// SeedInvestment inserts an investment record bypassing the cap.
func (s *Store) SeedInvestment(inv models.Investment) *models.Investment {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	cp := inv
	if cp.ID == 0 {
		s.core.nextInvestmentID++
		cp.ID = s.core.nextInvestmentID
	} else if cp.ID > s.core.nextInvestmentID {
		s.core.nextInvestmentID = cp.ID
	}
	s.core.investments[cp.ID] = &cp
	return &cp
}

// SeedTransaction inserts a journal entry as-is.
func (s *Store) SeedTransaction(tx models.Transaction) *models.Transaction {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	cp := tx
	if cp.ID == 0 {
		s.core.nextTransactionID++
		cp.ID = s.core.nextTransactionID
	} else if cp.ID > s.core.nextTransactionID {
		s.core.nextTransactionID = cp.ID
	}
	s.core.transactions[cp.ID] = &cp
	return &cp
}

// Wallets implements store.WalletStore.
type Wallets struct {
	c *core
}

// Investments implements store.InvestmentStore.
type Investments struct {
	c *core
}

// Transactions implements store.TransactionStore.
type Transactions struct {
	c *core
}

// Users implements store.UserStore.
type Users struct {
	c *core
}

// Plans implements store.PlanStore.
type Plans struct {
	c *core
}

var (
	_ store.WalletStore      = (*Wallets)(nil)
	_ store.InvestmentStore  = (*Investments)(nil)
	_ store.TransactionStore = (*Transactions)(nil)
	_ store.UserStore        = (*Users)(nil)
	_ store.PlanStore        = (*Plans)(nil)
)

func (w *Wallets) get(userID uint, kind string) *models.Wallet {
	return w.c.wallets[walletKey{userID: userID, kind: kind}]
}

func (c *core) getOrCreateWallet(userID uint, kind string) *models.Wallet {
	key := walletKey{userID: userID, kind: kind}
	if wallet, ok := c.wallets[key]; ok {
		return wallet
	}
	c.nextWalletID++
	wallet := &models.Wallet{
		UserID: userID,
		Kind:   kind,
		Status: models.WalletStatusActive,
	}
	wallet.ID = c.nextWalletID
	c.wallets[key] = wallet
	return wallet
}

func (w *Wallets) Get(_ context.Context, userID uint, kind string) (*models.Wallet, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	wallet := w.get(userID, kind)
	if wallet == nil {
		return nil, store.ErrNotFound
	}
	cp := *wallet
	return &cp, nil
}

func (w *Wallets) GetOrCreate(_ context.Context, userID uint, kind string) (*models.Wallet, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	cp := *w.c.getOrCreateWallet(userID, kind)
	return &cp, nil
}

func (w *Wallets) Credit(_ context.Context, userID uint, kind, currency string, amount float64, total models.TotalKind, at time.Time) (*models.Wallet, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	if w.c.creditErr != nil {
		return nil, w.c.creditErr
	}
	if _, ok := models.BalanceColumn(currency); !ok {
		return nil, store.ErrUnknownCurrency
	}
	wallet := w.c.getOrCreateWallet(userID, kind)
	addBalance(wallet, currency, amount)
	addTotal(wallet, total, amount)
	wallet.LastActivityAt = at
	cp := *wallet
	return &cp, nil
}

func (w *Wallets) Debit(_ context.Context, userID uint, kind, currency string, amount float64, total models.TotalKind, at time.Time) (*models.Wallet, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	if w.c.debitErr != nil {
		return nil, w.c.debitErr
	}
	if _, ok := models.BalanceColumn(currency); !ok {
		return nil, store.ErrUnknownCurrency
	}
	wallet := w.c.getOrCreateWallet(userID, kind)
	if wallet.Balance(currency) < amount {
		return nil, store.ErrInsufficientBalance
	}
	addBalance(wallet, currency, -amount)
	addTotal(wallet, total, amount)
	wallet.LastActivityAt = at
	cp := *wallet
	return &cp, nil
}

func (w *Wallets) Transfer(_ context.Context, userID uint, fromKind, toKind, currency string, amount float64, at time.Time) error {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	if _, ok := models.BalanceColumn(currency); !ok {
		return store.ErrUnknownCurrency
	}
	from := w.c.getOrCreateWallet(userID, fromKind)
	to := w.c.getOrCreateWallet(userID, toKind)
	if from.Balance(currency) < amount {
		return store.ErrInsufficientBalance
	}
	addBalance(from, currency, -amount)
	addBalance(to, currency, amount)
	from.LastActivityAt = at
	to.LastActivityAt = at
	return nil
}

func addBalance(w *models.Wallet, currency string, delta float64) {
	switch currency {
	case models.CurrencyNaira:
		w.BalanceNaira += delta
	case models.CurrencyUSDT:
		w.BalanceUSDT += delta
	}
}

func addTotal(w *models.Wallet, total models.TotalKind, amount float64) {
	switch total {
	case models.TotalDeposits:
		w.TotalDeposits += amount
	case models.TotalWithdrawals:
		w.TotalWithdrawals += amount
	case models.TotalInvestments:
		w.TotalInvestments += amount
	case models.TotalEarnings:
		w.TotalEarnings += amount
	case models.TotalBonuses:
		w.TotalBonuses += amount
	case models.TotalReferralEarnings:
		w.TotalReferralEarnings += amount
	}
}

func (i *Investments) CreateCapped(_ context.Context, inv *models.Investment, maxActive int) error {
	i.c.mu.Lock()
	defer i.c.mu.Unlock()
	var active int
	for _, existing := range i.c.investments {
		if existing.UserID == inv.UserID && existing.Status == models.InvestmentStatusActive {
			active++
		}
	}
	if active >= maxActive {
		return store.ErrActiveLimit
	}
	i.c.nextInvestmentID++
	inv.ID = i.c.nextInvestmentID
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	cp := *inv
	i.c.investments[cp.ID] = &cp
	return nil
}

func (i *Investments) Get(_ context.Context, id uint) (*models.Investment, error) {
	i.c.mu.Lock()
	defer i.c.mu.Unlock()
	inv, ok := i.c.investments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (i *Investments) Detail(_ context.Context, id uint) (*store.InvestmentDetail, error) {
	i.c.mu.Lock()
	defer i.c.mu.Unlock()
	inv, ok := i.c.investments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	detail := &store.InvestmentDetail{Investment: *inv}
	if plan, ok := i.c.plans[inv.PlanID]; ok {
		detail.Plan = store.PlanSummary{
			ID:           plan.ID,
			Name:         plan.Name,
			DailyROI:     plan.DailyROI,
			TotalROI:     plan.TotalROI,
			DurationDays: plan.DurationDays,
		}
	}
	if user, ok := i.c.users[inv.UserID]; ok {
		detail.Owner = store.OwnerSummary{
			ID:           user.ID,
			Email:        user.Email,
			ReferralCode: user.ReferralCode,
		}
	}
	return detail, nil
}

func (i *Investments) ListByOwner(_ context.Context, userID uint, status string, page store.Page) ([]models.Investment, error) {
	i.c.mu.Lock()
	defer i.c.mu.Unlock()
	var out []models.Investment
	for _, inv := range i.c.investments {
		if inv.UserID != userID {
			continue
		}
		if status != "" && inv.Status != status {
			continue
		}
		out = append(out, *inv)
	}
	sortByIDDesc(out)
	return paginate(out, page), nil
}

func (i *Investments) ListActiveByOwner(_ context.Context, userID uint) ([]models.Investment, error) {
	i.c.mu.Lock()
	defer i.c.mu.Unlock()
	var out []models.Investment
	for _, inv := range i.c.investments {
		if inv.UserID == userID && inv.Status == models.InvestmentStatusActive {
			out = append(out, *inv)
		}
	}
	sortByIDAsc(out)
	return out, nil
}

func (i *Investments) ListDue(_ context.Context, now time.Time) ([]models.Investment, error) {
	i.c.mu.Lock()
	defer i.c.mu.Unlock()
	var out []models.Investment
	for _, inv := range i.c.investments {
		if inv.Status == models.InvestmentStatusActive && !inv.NextAccrualAt.After(now) {
			out = append(out, *inv)
		}
	}
	sortByIDAsc(out)
	return out, nil
}

func (i *Investments) ClaimAccrual(_ context.Context, claim store.AccrualClaim) (bool, error) {
	i.c.mu.Lock()
	defer i.c.mu.Unlock()
	inv, ok := i.c.investments[claim.InvestmentID]
	if !ok {
		return false, nil
	}
	if inv.Status != models.InvestmentStatusActive || !inv.NextAccrualAt.Equal(claim.ObservedNextAccrualAt) {
		return false, nil
	}
	if _, ok := models.BalanceColumn(claim.Currency); !ok {
		return false, store.ErrUnknownCurrency
	}
	// Claim and credit apply together or not at all, matching the gorm
	// implementation's transaction.
	if i.c.creditErr != nil {
		return false, i.c.creditErr
	}
	inv.EarnedAmount += claim.Earned
	last := claim.LastAccrualAt
	inv.LastAccrualAt = &last
	inv.NextAccrualAt = claim.NextAccrualAt
	wallet := i.c.getOrCreateWallet(claim.UserID, models.WalletKindProfit)
	addBalance(wallet, claim.Currency, claim.Earned)
	addTotal(wallet, models.TotalEarnings, claim.Earned)
	wallet.LastActivityAt = claim.LastAccrualAt
	return true, nil
}

func (i *Investments) Complete(_ context.Context, id uint, at time.Time) error {
	i.c.mu.Lock()
	defer i.c.mu.Unlock()
	inv, ok := i.c.investments[id]
	if !ok {
		return store.ErrNotFound
	}
	if inv.Status != models.InvestmentStatusActive {
		return store.ErrInvalidState
	}
	inv.Status = models.InvestmentStatusCompleted
	inv.EndDate = at
	return nil
}

func (i *Investments) Cancel(_ context.Context, id uint, reason string) error {
	return i.transition(id, models.InvestmentStatusCancelled, "cancelled: "+reason)
}

func (i *Investments) Suspend(_ context.Context, id uint, reason string) error {
	return i.transition(id, models.InvestmentStatusSuspended, "suspended: "+reason)
}

func (i *Investments) transition(id uint, status, note string) error {
	i.c.mu.Lock()
	defer i.c.mu.Unlock()
	inv, ok := i.c.investments[id]
	if !ok {
		return store.ErrNotFound
	}
	if inv.Status != models.InvestmentStatusActive {
		return store.ErrInvalidState
	}
	inv.Status = status
	inv.Notes = strings.TrimPrefix(inv.Notes+"\n"+note, "\n")
	return nil
}

func (i *Investments) SetTransaction(_ context.Context, id, transactionID uint) error {
	i.c.mu.Lock()
	defer i.c.mu.Unlock()
	inv, ok := i.c.investments[id]
	if !ok {
		return store.ErrNotFound
	}
	txID := transactionID
	inv.TransactionID = &txID
	return nil
}

func (i *Investments) Aggregate(_ context.Context) ([]store.AggregateRow, error) {
	i.c.mu.Lock()
	defer i.c.mu.Unlock()
	buckets := make(map[[2]string]*store.AggregateRow)
	for _, inv := range i.c.investments {
		key := [2]string{inv.Status, inv.Currency}
		row, ok := buckets[key]
		if !ok {
			row = &store.AggregateRow{Status: inv.Status, Currency: inv.Currency}
			buckets[key] = row
		}
		row.Count++
		row.TotalAmount += inv.Amount
	}
	var out []store.AggregateRow
	for _, row := range buckets {
		out = append(out, *row)
	}
	return out, nil
}

func (t *Transactions) Create(_ context.Context, tx *models.Transaction) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.c.createTxErr != nil {
		return t.c.createTxErr
	}
	t.c.nextTransactionID++
	tx.ID = t.c.nextTransactionID
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	cp := *tx
	t.c.transactions[cp.ID] = &cp
	return nil
}

func (t *Transactions) Get(_ context.Context, id uint) (*models.Transaction, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	tx, ok := t.c.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (t *Transactions) List(_ context.Context, filter store.TxFilter, page store.Page) ([]models.Transaction, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	var out []models.Transaction
	for _, tx := range t.c.transactions {
		if filter.UserID != 0 && tx.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.Currency != "" && tx.Currency != filter.Currency {
			continue
		}
		out = append(out, *tx)
	}
	sortTxByIDDesc(out)
	return paginateTx(out, page), nil
}

func (t *Transactions) ListPendingDue(_ context.Context, olderThan, now time.Time) ([]models.Transaction, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	var out []models.Transaction
	for _, tx := range t.c.transactions {
		if tx.Status != models.TxStatusPending {
			continue
		}
		if tx.CreatedAt.After(olderThan) {
			continue
		}
		if tx.NextRetryAt != nil && tx.NextRetryAt.After(now) {
			continue
		}
		out = append(out, *tx)
	}
	sortTxByPriority(out)
	return out, nil
}

func (t *Transactions) MarkSuccess(_ context.Context, id uint, at time.Time) error {
	return t.fromPending(id, func(tx *models.Transaction) {
		tx.Status = models.TxStatusSuccess
		stamp := at
		tx.ProcessedAt = &stamp
	})
}

func (t *Transactions) MarkFailed(_ context.Context, id uint, reason string, at time.Time) error {
	return t.fromPending(id, func(tx *models.Transaction) {
		tx.Status = models.TxStatusFailed
		stamp := at
		tx.FailedAt = &stamp
		tx.FailReason = reason
	})
}

func (t *Transactions) MarkExhausted(_ context.Context, id uint, reason string, retryCount int, at time.Time) error {
	return t.fromPending(id, func(tx *models.Transaction) {
		tx.Status = models.TxStatusFailed
		stamp := at
		tx.FailedAt = &stamp
		tx.FailReason = reason
		tx.RetryCount = retryCount
	})
}

func (t *Transactions) MarkCancelled(_ context.Context, id uint, reason string, at time.Time) error {
	return t.fromPending(id, func(tx *models.Transaction) {
		tx.Status = models.TxStatusCancelled
		stamp := at
		tx.CancelledAt = &stamp
		tx.FailReason = reason
	})
}

func (t *Transactions) ScheduleRetry(_ context.Context, id uint, retryCount int, nextRetryAt time.Time) error {
	return t.fromPending(id, func(tx *models.Transaction) {
		tx.RetryCount = retryCount
		stamp := nextRetryAt
		tx.NextRetryAt = &stamp
	})
}

func (t *Transactions) fromPending(id uint, apply func(*models.Transaction)) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	tx, ok := t.c.transactions[id]
	if !ok {
		return store.ErrNotFound
	}
	if tx.Status != models.TxStatusPending {
		return store.ErrInvalidState
	}
	apply(tx)
	return nil
}

func (t *Transactions) ResetForRetry(_ context.Context, id uint) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	tx, ok := t.c.transactions[id]
	if !ok {
		return store.ErrNotFound
	}
	if tx.Status != models.TxStatusFailed {
		return store.ErrInvalidState
	}
	tx.Status = models.TxStatusPending
	tx.RetryCount++
	tx.NextRetryAt = nil
	tx.FailedAt = nil
	tx.FailReason = ""
	return nil
}

func (t *Transactions) MarkReversed(_ context.Context, id uint, reason string, reversedBy *uint) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	tx, ok := t.c.transactions[id]
	if !ok {
		return store.ErrNotFound
	}
	if !tx.IsTerminal() {
		return store.ErrInvalidState
	}
	tx.Reversed = true
	tx.ReversalReason = reason
	tx.ReversedByID = reversedBy
	return nil
}

func (t *Transactions) Aggregate(_ context.Context) ([]store.AggregateRow, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	buckets := make(map[[2]string]*store.AggregateRow)
	for _, tx := range t.c.transactions {
		key := [2]string{tx.Status, tx.Currency}
		row, ok := buckets[key]
		if !ok {
			row = &store.AggregateRow{Status: tx.Status, Currency: tx.Currency}
			buckets[key] = row
		}
		row.Count++
		row.TotalAmount += tx.Amount
	}
	var out []store.AggregateRow
	for _, row := range buckets {
		out = append(out, *row)
	}
	return out, nil
}

func (u *Users) Get(_ context.Context, id uint) (*models.User, error) {
	u.c.mu.Lock()
	defer u.c.mu.Unlock()
	user, ok := u.c.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (u *Users) SetFirstActiveInvestment(_ context.Context, id uint, at time.Time) error {
	u.c.mu.Lock()
	defer u.c.mu.Unlock()
	user, ok := u.c.users[id]
	if !ok {
		return store.ErrNotFound
	}
	if user.FirstActiveInvestmentAt == nil {
		stamp := at
		user.FirstActiveInvestmentAt = &stamp
	}
	return nil
}

func (u *Users) AddReferralCredit(_ context.Context, id uint, amount float64) error {
	u.c.mu.Lock()
	defer u.c.mu.Unlock()
	user, ok := u.c.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.ReferralCount++
	user.ReferralEarnings += amount
	return nil
}

func (u *Users) RecordBonusWithdrawal(_ context.Context, id uint, at time.Time, amount float64) error {
	u.c.mu.Lock()
	defer u.c.mu.Unlock()
	user, ok := u.c.users[id]
	if !ok {
		return store.ErrNotFound
	}
	stamp := at
	user.LastBonusWithdrawalAt = &stamp
	user.TotalBonusWithdrawn += amount
	return nil
}

func (p *Plans) Get(_ context.Context, id uint) (*models.Plan, error) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	plan, ok := p.c.plans[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *plan
	return &cp, nil
}

func (p *Plans) ListActive(_ context.Context) ([]models.Plan, error) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	var out []models.Plan
	for _, plan := range p.c.plans {
		if plan.Status == models.PlanStatusActive {
			out = append(out, *plan)
		}
	}
	return out, nil
}

func sortByIDAsc(s []models.Investment) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].ID > s[j].ID; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func sortByIDDesc(s []models.Investment) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].ID < s[j].ID; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func sortTxByIDDesc(s []models.Transaction) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].ID < s[j].ID; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func sortTxByPriority(s []models.Transaction) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && less(&s[j], &s[j-1]); j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func less(a, b *models.Transaction) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func paginate(s []models.Investment, page store.Page) []models.Investment {
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	if page.Offset >= len(s) {
		return nil
	}
	end := page.Offset + limit
	if end > len(s) {
		end = len(s)
	}
	return s[page.Offset:end]
}

func paginateTx(s []models.Transaction, page store.Page) []models.Transaction {
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	if page.Offset >= len(s) {
		return nil
	}
	end := page.Offset + limit
	if end > len(s) {
		end = len(s)
	}
	return s[page.Offset:end]
}
