package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/crajybot/internal/model"
)

// MemoryRepository - хранилище в памяти процесса с тем же контрактом, что и PostgresRepository.
// Транзакции сериализуются одним мьютексом; изменения применяются только при успехе fn.
// Внутри fn нельзя вызывать другие методы репозитория.
type MemoryRepository struct {
	mu        sync.Mutex
	accounts  map[int64]*model.Account
	shop      map[string]*model.ShopItem
	loans     map[int64]*model.Loan
	snapshots map[model.Collection][]model.Snapshot
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:  map[int64]*model.Account{},
		shop:      map[string]*model.ShopItem{},
		loans:     map[int64]*model.Loan{},
		snapshots: map[model.Collection][]model.Snapshot{},
	}
}

// Close ничего не делает.
func (m *MemoryRepository) Close() error { return nil }

func (m *MemoryRepository) accountLocked(userID int64) *model.Account {
	a, ok := m.accounts[userID]
	if !ok {
		a = &model.Account{UserID: userID, Inventory: map[string]int64{}}
		m.accounts[userID] = a
	}
	return a
}

// InTx выполняет fn над копиями данных и применяет их, если fn вернула nil.
func (m *MemoryRepository) InTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		repo:     m,
		accounts: map[int64]*model.Account{},
		shop:     map[string]*model.ShopItem{},
		loans:    map[int64]*model.Loan{},
		deleted:  map[int64]bool{},
	}

	if err := fn(tx); err != nil {
		return err
	}

	for id, a := range tx.accounts {
		m.accounts[id] = a
	}
	for name, item := range tx.shop {
		m.shop[name] = item
	}
	for id := range tx.deleted {
		delete(m.loans, id)
	}
	for id, l := range tx.loans {
		m.loans[id] = l
	}
	return nil
}

// GetAccount возвращает копию счёта, создавая его при первом обращении.
func (m *MemoryRepository) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accountLocked(userID).Clone(), nil
}

// ListAccounts возвращает копии всех счетов по возрастанию идентификатора.
func (m *MemoryRepository) ListAccounts(ctx context.Context) ([]model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make([]model.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		res = append(res, *a.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UserID < res[j].UserID })
	return res, nil
}

// ListShopItems возвращает ассортимент магазина по названию.
func (m *MemoryRepository) ListShopItems(ctx context.Context) ([]model.ShopItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make([]model.ShopItem, 0, len(m.shop))
	for _, item := range m.shop {
		res = append(res, *item.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// UpsertShopItem создаёт или заменяет товар.
func (m *MemoryRepository) UpsertShopItem(ctx context.Context, item model.ShopItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := item.Clone()
	c.Name = NormalizeItemName(item.Name)
	m.shop[c.Name] = c
	return nil
}

// DueLoans возвращает кредиты с наступившим сроком напоминания или дефолта.
func (m *MemoryRepository) DueLoans(ctx context.Context, now time.Time) ([]model.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Loan
	for _, l := range m.loans {
		if (!l.Reminded && !l.RemindAt.After(now)) || !l.DefaultAt.After(now) {
			res = append(res, *l)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].RemindAt.Before(res[j].RemindAt) })
	return res, nil
}

// InsertSnapshot добавляет снимок в коллекцию.
func (m *MemoryRepository) InsertSnapshot(ctx context.Context, coll model.Collection, s model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[coll] = append(m.snapshots[coll], copySnapshot(s))
	return nil
}

// FindSnapshots возвращает снимки с TakenAt >= since по возрастанию времени.
func (m *MemoryRepository) FindSnapshots(ctx context.Context, coll model.Collection, since time.Time, limit int) ([]model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Snapshot
	for _, s := range m.snapshots[coll] {
		if !s.TakenAt.Before(since) {
			res = append(res, copySnapshot(s))
		}
	}
	model.SortSnapshots(res)

	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// CopySnapshots копирует снимки между коллекциями.
func (m *MemoryRepository) CopySnapshots(ctx context.Context, from, to model.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.snapshots[from] {
		m.snapshots[to] = append(m.snapshots[to], copySnapshot(s))
	}
	return nil
}

// DeleteSnapshots очищает коллекцию.
func (m *MemoryRepository) DeleteSnapshots(ctx context.Context, coll model.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.snapshots, coll)
	return nil
}

func copySnapshot(s model.Snapshot) model.Snapshot {
	c := model.Snapshot{
		TakenAt:       s.TakenAt,
		AuthorCounts:  make(map[string]int64, len(s.AuthorCounts)),
		ChannelCounts: make(map[string]int64, len(s.ChannelCounts)),
	}
	for k, v := range s.AuthorCounts {
		c.AuthorCounts[k] = v
	}
	for k, v := range s.ChannelCounts {
		c.ChannelCounts[k] = v
	}
	return c
}

type memTx struct {
	repo     *MemoryRepository
	accounts map[int64]*model.Account
	shop     map[string]*model.ShopItem
	loans    map[int64]*model.Loan
	deleted  map[int64]bool
}

func (t *memTx) Account(ctx context.Context, userID int64) (*model.Account, error) {
	if a, ok := t.accounts[userID]; ok {
		return a.Clone(), nil
	}
	if a, ok := t.repo.accounts[userID]; ok {
		return a.Clone(), nil
	}
	a := &model.Account{UserID: userID, Inventory: map[string]int64{}}
	t.accounts[userID] = a
	return a.Clone(), nil
}

func (t *memTx) AccountPair(ctx context.Context, first, second int64) (*model.Account, *model.Account, error) {
	if first == second {
		return nil, nil, model.ErrSameAccount
	}

	a, err := t.Account(ctx, first)
	if err != nil {
		return nil, nil, err
	}
	b, err := t.Account(ctx, second)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func (t *memTx) SaveAccount(ctx context.Context, a *model.Account) error {
	if a.Bank < 0 || a.Debt < 0 {
		return fmt.Errorf("update account %d: bank and debt must be non-negative", a.UserID)
	}
	t.accounts[a.UserID] = a.Clone()
	return nil
}

func (t *memTx) ShopItem(ctx context.Context, name string) (*model.ShopItem, error) {
	key := NormalizeItemName(name)
	if item, ok := t.shop[key]; ok {
		return item.Clone(), nil
	}
	if item, ok := t.repo.shop[key]; ok {
		return item.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", model.ErrItemNotFound, name)
}

func (t *memTx) SaveShopItem(ctx context.Context, item *model.ShopItem) error {
	if item.Stock != nil && *item.Stock < 0 {
		return fmt.Errorf("update shop item %s: stock must be non-negative", item.Name)
	}
	t.shop[item.Name] = item.Clone()
	return nil
}

func (t *memTx) Loan(ctx context.Context, userID int64) (*model.Loan, error) {
	if l, ok := t.loans[userID]; ok {
		c := *l
		return &c, nil
	}
	if t.deleted[userID] {
		return nil, nil
	}
	if l, ok := t.repo.loans[userID]; ok {
		c := *l
		return &c, nil
	}
	return nil, nil
}

func (t *memTx) SaveLoan(ctx context.Context, l *model.Loan) error {
	c := *l
	t.loans[l.UserID] = &c
	return nil
}

func (t *memTx) DeleteLoan(ctx context.Context, userID int64) error {
	delete(t.loans, userID)
	t.deleted[userID] = true
	return nil
}
