// Package model содержит доменные сущности экономики и метрик чата.
package model

import (
	"fmt"
	"sort"
	"time"
)

// Account описывает кошелёк участника сервера.
type Account struct {
	UserID    int64
	Cash      int64
	Bank      int64
	Debt      int64
	Inventory map[string]int64
}

// NetWorth возвращает чистый капитал: наличные плюс банк минус долг.
func (a *Account) NetWorth() int64 {
	return a.Cash + a.Bank - a.Debt
}

// Wealth возвращает сумму наличных и банка, по которой строится рейтинг.
func (a *Account) Wealth() int64 {
	return a.Cash + a.Bank
}

// Clone возвращает глубокую копию счёта.
func (a *Account) Clone() *Account {
	c := *a
	c.Inventory = make(map[string]int64, len(a.Inventory))
	for k, v := range a.Inventory {
		c.Inventory[k] = v
	}
	return &c
}

// Balance - ответ на запрос баланса.
type Balance struct {
	Cash     int64 `json:"cash"`
	Bank     int64 `json:"bank"`
	Debt     int64 `json:"debt"`
	NetWorth int64 `json:"net_worth"`
}

// BalanceOf формирует Balance по счёту.
func BalanceOf(a *Account) Balance {
	return Balance{
		Cash:     a.Cash,
		Bank:     a.Bank,
		Debt:     a.Debt,
		NetWorth: a.NetWorth(),
	}
}

// ShopItem описывает товар магазина. Stock == nil означает неограниченный запас.
type ShopItem struct {
	Name  string  `json:"name"`
	Price int64   `json:"price"`
	Stock *int64  `json:"stock,omitempty"`
	Role  *string `json:"role,omitempty"`
}

// Unlimited сообщает, что запас товара не ограничен.
func (i *ShopItem) Unlimited() bool {
	return i.Stock == nil
}

// Clone возвращает копию товара.
func (i *ShopItem) Clone() *ShopItem {
	c := *i
	if i.Stock != nil {
		v := *i.Stock
		c.Stock = &v
	}
	if i.Role != nil {
		v := *i.Role
		c.Role = &v
	}
	return &c
}

// Loan - запись об активном кредите с моментами напоминания и дефолта.
type Loan struct {
	UserID    int64
	Amount    int64
	TakenAt   time.Time
	RemindAt  time.Time
	DefaultAt time.Time
	Reminded  bool
}

// Severity задаёт оттенок уведомления для шлюза чата.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notice - то, что шлюз чата отрисовывает пользователю.
type Notice struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// Collection выбирает набор снимков метрик: боевой или песочницу.
type Collection string

const (
	CollectionLive    Collection = "live"
	CollectionSandbox Collection = "sandbox"
)

// Snapshot - агрегированные счётчики сообщений за один интервал.
type Snapshot struct {
	TakenAt       time.Time        `json:"taken_at"`
	AuthorCounts  map[string]int64 `json:"author_counts"`
	ChannelCounts map[string]int64 `json:"channel_counts"`
}

// Total возвращает общее число сообщений за интервал.
func (s Snapshot) Total() int64 {
	var total int64
	for _, v := range s.AuthorCounts {
		total += v
	}
	return total
}

// MemberCount возвращает число сообщений участника за интервал.
func (s Snapshot) MemberCount(id string) (int64, error) {
	v, ok := s.AuthorCounts[id]
	if !ok {
		return 0, fmt.Errorf("%w: member %s at %s", ErrUnknownObjectInSnapshot, id, s.TakenAt.Format(time.RFC3339))
	}
	return v, nil
}

// ChannelCount возвращает число сообщений в канале за интервал.
func (s Snapshot) ChannelCount(id string) (int64, error) {
	v, ok := s.ChannelCounts[id]
	if !ok {
		return 0, fmt.Errorf("%w: channel %s at %s", ErrUnknownObjectInSnapshot, id, s.TakenAt.Format(time.RFC3339))
	}
	return v, nil
}

// HourLabel возвращает час снимка в формате "15".
func (s Snapshot) HourLabel(loc *time.Location) string {
	return s.TakenAt.In(loc).Format("15")
}

// DateLabel возвращает дату снимка в формате "02/01/".
func (s Snapshot) DateLabel(loc *time.Location) string {
	return s.TakenAt.In(loc).Format("02/01/")
}

// SortSnapshots упорядочивает снимки по возрастанию времени.
func SortSnapshots(snaps []Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].TakenAt.Before(snaps[j].TakenAt)
	})
}
