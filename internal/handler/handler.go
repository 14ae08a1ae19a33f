// Package handler содержит HTTP-обработчики командного шлюза бота: экономика и метрики чата.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/crajybot/internal/ledger"
	"github.com/mmeshcher/crajybot/internal/members"
	"github.com/mmeshcher/crajybot/internal/metrics"
	"github.com/mmeshcher/crajybot/internal/middleware"
	"github.com/mmeshcher/crajybot/internal/model"
	"github.com/mmeshcher/crajybot/internal/timeutil"
	"github.com/mmeshcher/crajybot/internal/validation"
)

// Ledger определяет контракт движка экономики, используемый HTTP-обработчиками.
type Ledger interface {
	Withdraw(ctx context.Context, userID int64, amount validation.Amount) (ledger.MoveResult, error)
	Deposit(ctx context.Context, userID int64, amount validation.Amount) (ledger.MoveResult, error)
	Balance(ctx context.Context, userID int64) (model.Balance, error)
	Leaderboard(ctx context.Context) ([]ledger.Standing, error)
	Earn(ctx context.Context, userID int64, job ledger.EarnJob) (ledger.Outcome, error)
	Wager(ctx context.Context, userID int64, job ledger.WagerJob) (ledger.Outcome, error)
	TakeLoan(ctx context.Context, userID int64, amount int64) (ledger.LoanResult, error)
	RepayLoan(ctx context.Context, userID int64) (ledger.MoveResult, error)
	Inventory(ctx context.Context, userID int64) (map[string]int64, error)
	Shop(ctx context.Context) ([]model.ShopItem, error)
	Buy(ctx context.Context, userID int64, itemName string, quantity int64) (ledger.TradeResult, error)
	Sell(ctx context.Context, userID int64, itemName string, quantity int64) (ledger.TradeResult, error)
	Transfer(ctx context.Context, from, to int64, amount int64) (ledger.TransferResult, error)
	Rob(ctx context.Context, robberID, victimID int64) (ledger.RobResult, error)
	UseItem(ctx context.Context, userID int64, itemName string) (ledger.UseResult, error)
}

// Metrics определяет контракт агрегатора метрик чата.
type Metrics interface {
	RecordMessage(authorID, channelID string, isBot bool) bool
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() metrics.Status
	Since(now time.Time, span *timeutil.Span) time.Time
	QueryRange(ctx context.Context, since time.Time, limit int) ([]model.Snapshot, error)
	SeriesFor(q metrics.Query, snaps []model.Snapshot) (metrics.Series, error)
}

// Resolver превращает упоминание участника в идентификатор.
type Resolver interface {
	Resolve(ctx context.Context, ref members.Ref) (int64, error)
}

// Handler реализует HTTP-обработчики командного шлюза.
type Handler struct {
	ledger         Ledger
	metrics        Metrics
	resolver       Resolver
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	now            func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(l Ledger, m Metrics, res Resolver, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		ledger:         l,
		metrics:        m,
		resolver:       res,
		logger:         logger,
		authMiddleware: auth,
		now:            time.Now,
	}
}

// response - ответ шлюзу: уведомление для пользователя и данные для отрисовки.
type response struct {
	Notice model.Notice `json:"notice"`
	Data   any          `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) ok(w http.ResponseWriter, title, description string, data any) {
	writeJSON(w, http.StatusOK, response{
		Notice: model.Notice{Title: title, Description: description, Severity: model.SeveritySuccess},
		Data:   data,
	})
}

func (h *Handler) badRequest(w http.ResponseWriter, description string) {
	writeJSON(w, http.StatusBadRequest, response{
		Notice: model.Notice{Title: "Invalid command", Description: description, Severity: model.SeverityError},
	})
}

// invoker возвращает идентификатор вызывающего пользователя из контекста.
func (h *Handler) invoker(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return 0, false
	}
	return userID, true
}

// target разрешает необязательный аргумент-участник; пустой аргумент означает самого вызывающего.
func (h *Handler) target(ctx context.Context, arg string, self int64) (int64, error) {
	if strings.TrimSpace(arg) == "" {
		return self, nil
	}
	return h.resolver.Resolve(ctx, members.ParseRef(arg))
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// flexString принимает в JSON как строку, так и число: {"amount": "all"} и {"amount": 30}.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expecting a string or a number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

type amountRequest struct {
	Amount flexString `json:"amount"`
}

// Withdraw переводит деньги из банка в наличные.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "Withdrawn", h.ledger.Withdraw, "withdrew %d from the bank")
}

// Deposit переводит наличные в банк.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "Deposited", h.ledger.Deposit, "deposited %d into the bank")
}

func (h *Handler) move(
	w http.ResponseWriter,
	r *http.Request,
	title string,
	op func(context.Context, int64, validation.Amount) (ledger.MoveResult, error),
	format string,
) {
	userID, ok := h.invoker(w, r)
	if !ok {
		return
	}

	var req amountRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err.Error())
		return
	}

	amount, err := validation.ParseAmount(string(req.Amount))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := op(r.Context(), userID, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.ok(w, title, "You "+fmt.Sprintf(format, res.Amount), res)
}

// GetBalance возвращает баланс вызывающего или указанного в ?user= участника.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	self, ok := h.invoker(w, r)
	if !ok {
		return
	}

	userID, err := h.target(r.Context(), r.URL.Query().Get("user"), self)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	b, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{
		Notice: model.Notice{
			Title:       strconv.FormatInt(userID, 10),
			Description: fmt.Sprintf("Cash: %d\nBank: %d\nDebt: %d\nNet worth: %d", b.Cash, b.Bank, b.Debt, b.NetWorth),
			Severity:    model.SeverityInfo,
		},
		Data: b,
	})
}

// GetLeaderboard возвращает рейтинг по cash+bank; ?limit= ограничивает число строк.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.ledger.Leaderboard(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			h.badRequest(w, "limit must be a non-negative integer")
			return
		}
		if limit > 0 && limit < len(board) {
			board = board[:limit]
		}
	}

	var sb strings.Builder
	for _, s := range board {
		fmt.Fprintf(&sb, "%d. %d: %d\n", s.Rank, s.UserID, s.Wealth)
	}

	writeJSON(w, http.StatusOK, response{
		Notice: model.Notice{Title: "Leaderboard", Description: strings.TrimRight(sb.String(), "\n"), Severity: model.SeverityInfo},
		Data:   board,
	})
}

// Work начисляет гарантированный заработок.
func (h *Handler) Work(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.invoker(w, r)
	if !ok {
		return
	}

	out, err := h.ledger.Earn(r.Context(), userID, ledger.Work)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.ok(w, "Work", fmt.Sprintf("You worked and earned %d", out.Amount), out)
}

// Hustle - рискованный заработок.
func (h *Handler) Hustle(w http.ResponseWriter, r *http.Request) { h.wager(w, r, ledger.Hustle) }

// Crime - рискованный заработок с меньшим шансом и большей ставкой.
func (h *Handler) Crime(w http.ResponseWriter, r *http.Request) { h.wager(w, r, ledger.Crime) }

func (h *Handler) wager(w http.ResponseWriter, r *http.Request, job ledger.WagerJob) {
	userID, ok := h.invoker(w, r)
	if !ok {
		return
	}

	out, err := h.ledger.Wager(r.Context(), userID, job)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	title := strings.ToUpper(job.Name[:1]) + job.Name[1:]
	if out.Won {
		h.ok(w, title, fmt.Sprintf("You got away with %d", out.Amount), out)
		return
	}

	writeJSON(w, http.StatusOK, response{
		Notice: model.Notice{Title: title, Description: fmt.Sprintf("You got caught and lost %d", out.Amount), Severity: model.SeverityWarning},
		Data:   out,
	})
}

type loanRequest struct {
	Amount int64 `json:"amount"`
}

// TakeLoan выдаёт кредит.
func (h *Handler) TakeLoan(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.invoker(w, r)
	if !ok {
		return
	}

	var req loanRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err.Error())
		return
	}

	res, err := h.ledger.TakeLoan(r.Context(), userID, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{
		Notice: model.Notice{
			Title:       "Loan",
			Description: fmt.Sprintf("You took a loan of %d! You owe %d", res.Amount, res.Balance.Debt),
			Severity:    model.SeverityWarning,
		},
		Data: res,
	})
}

// RepayLoan гасит долг.
func (h *Handler) RepayLoan(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.invoker(w, r)
	if !ok {
		return
	}

	res, err := h.ledger.RepayLoan(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.ok(w, "Loan repaid", "You've paid off your debt!", res)
}

// GetInventory возвращает инвентарь вызывающего или указанного участника.
func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	self, ok := h.invoker(w, r)
	if !ok {
		return
	}

	userID, err := h.target(r.Context(), r.URL.Query().Get("user"), self)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	inv, err := h.ledger.Inventory(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	desc := "Nothing here"
	var lines []string
	for item, q := range inv {
		if q > 0 {
			lines = append(lines, fmt.Sprintf("%s: %d", item, q))
		}
	}
	if len(lines) > 0 {
		sort.Strings(lines)
		desc = strings.Join(lines, "\n")
	}

	writeJSON(w, http.StatusOK, response{
		Notice: model.Notice{Title: "Inventory", Description: desc, Severity: model.SeverityInfo},
		Data:   inv,
	})
}

// GetShop возвращает ассортимент магазина.
func (h *Handler) GetShop(w http.ResponseWriter, r *http.Request) {
	items, err := h.ledger.Shop(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var sb strings.Builder
	for _, item := range items {
		stock := "unlimited"
		if !item.Unlimited() {
			stock = strconv.FormatInt(*item.Stock, 10)
		}
		fmt.Fprintf(&sb, "%s: %d (stock: %s)\n", item.Name, item.Price, stock)
	}

	writeJSON(w, http.StatusOK, response{
		Notice: model.Notice{Title: "Shop", Description: strings.TrimRight(sb.String(), "\n"), Severity: model.SeverityInfo},
		Data:   items,
	})
}

type tradeRequest struct {
	Item     string `json:"item"`
	Quantity int64  `json:"quantity"`
}

// Buy покупает товар.
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, h.ledger.Buy, "You bought %d %s for %d")
}

// Sell продаёт товар.
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, h.ledger.Sell, "You sold %d %s for %d")
}

func (h *Handler) trade(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, int64, string, int64) (ledger.TradeResult, error),
	format string,
) {
	userID, ok := h.invoker(w, r)
	if !ok {
		return
	}

	var req tradeRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Item) == "" {
		h.badRequest(w, "item is required")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	res, err := op(r.Context(), userID, req.Item, req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.ok(w, "Shop", fmt.Sprintf(format, res.Quantity, res.Item, res.Total), res)
}

type giveRequest struct {
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// Give переводит наличные другому участнику.
func (h *Handler) Give(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.invoker(w, r)
	if !ok {
		return
	}

	var req giveRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err.Error())
		return
	}

	to, err := h.resolver.Resolve(r.Context(), members.ParseRef(req.To))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.ledger.Transfer(r.Context(), userID, to, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.ok(w, "Transfer", fmt.Sprintf("You gave %d to %d", res.Amount, to), res)
}

type robRequest struct {
	Victim string `json:"victim"`
}

// Rob грабит другого участника.
func (h *Handler) Rob(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.invoker(w, r)
	if !ok {
		return
	}

	var req robRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err.Error())
		return
	}

	victim, err := h.resolver.Resolve(r.Context(), members.ParseRef(req.Victim))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.ledger.Rob(r.Context(), userID, victim)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if res.Success {
		h.ok(w, "Robbery", fmt.Sprintf("You robbed %d and got %d", victim, res.Amount), res)
		return
	}

	writeJSON(w, http.StatusOK, response{
		Notice: model.Notice{Title: "Robbery", Description: fmt.Sprintf("You got caught and were fined %d", res.Amount), Severity: model.SeverityWarning},
		Data:   res,
	})
}

type useRequest struct {
	Item string `json:"item"`
}

// UseItem использует предмет из инвентаря.
func (h *Handler) UseItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.invoker(w, r)
	if !ok {
		return
	}

	var req useRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Item) == "" {
		h.badRequest(w, "item is required")
		return
	}

	res, err := h.ledger.UseItem(r.Context(), userID, req.Item)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	desc := fmt.Sprintf("You used %s; no role associated", res.Item)
	if res.Role != "" {
		desc = fmt.Sprintf("You used %s and got the %s role", res.Item, res.Role)
	}
	h.ok(w, "Item used", desc, res)
}
