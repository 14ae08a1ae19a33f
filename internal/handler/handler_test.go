package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
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

type stubLedger struct {
	lastUser   int64
	lastTarget int64
	lastAmount validation.Amount
	lastItem   string
	lastQty    int64

	moveResp ledger.MoveResult
	moveErr  error

	balanceResp model.Balance
	balanceErr  error

	board []ledger.Standing

	outcome    ledger.Outcome
	outcomeErr error
	lastWager  string

	loanResp ledger.LoanResult
	loanErr  error

	inventory map[string]int64
	shop      []model.ShopItem

	tradeResp ledger.TradeResult
	tradeErr  error

	transferResp ledger.TransferResult
	transferErr  error

	robResp ledger.RobResult
	robErr  error

	useResp ledger.UseResult
	useErr  error
}

func (s *stubLedger) Withdraw(ctx context.Context, userID int64, amount validation.Amount) (ledger.MoveResult, error) {
	s.lastUser, s.lastAmount = userID, amount
	return s.moveResp, s.moveErr
}

func (s *stubLedger) Deposit(ctx context.Context, userID int64, amount validation.Amount) (ledger.MoveResult, error) {
	s.lastUser, s.lastAmount = userID, amount
	return s.moveResp, s.moveErr
}

func (s *stubLedger) Balance(ctx context.Context, userID int64) (model.Balance, error) {
	s.lastUser = userID
	return s.balanceResp, s.balanceErr
}

func (s *stubLedger) Leaderboard(ctx context.Context) ([]ledger.Standing, error) {
	return s.board, nil
}

func (s *stubLedger) Earn(ctx context.Context, userID int64, job ledger.EarnJob) (ledger.Outcome, error) {
	s.lastUser = userID
	return s.outcome, s.outcomeErr
}

func (s *stubLedger) Wager(ctx context.Context, userID int64, job ledger.WagerJob) (ledger.Outcome, error) {
	s.lastUser, s.lastWager = userID, job.Name
	return s.outcome, s.outcomeErr
}

func (s *stubLedger) TakeLoan(ctx context.Context, userID int64, amount int64) (ledger.LoanResult, error) {
	s.lastUser, s.lastQty = userID, amount
	return s.loanResp, s.loanErr
}

func (s *stubLedger) RepayLoan(ctx context.Context, userID int64) (ledger.MoveResult, error) {
	s.lastUser = userID
	return s.moveResp, s.moveErr
}

func (s *stubLedger) Inventory(ctx context.Context, userID int64) (map[string]int64, error) {
	s.lastUser = userID
	return s.inventory, nil
}

func (s *stubLedger) Shop(ctx context.Context) ([]model.ShopItem, error) {
	return s.shop, nil
}

func (s *stubLedger) Buy(ctx context.Context, userID int64, itemName string, quantity int64) (ledger.TradeResult, error) {
	s.lastUser, s.lastItem, s.lastQty = userID, itemName, quantity
	return s.tradeResp, s.tradeErr
}

func (s *stubLedger) Sell(ctx context.Context, userID int64, itemName string, quantity int64) (ledger.TradeResult, error) {
	s.lastUser, s.lastItem, s.lastQty = userID, itemName, quantity
	return s.tradeResp, s.tradeErr
}

func (s *stubLedger) Transfer(ctx context.Context, from, to int64, amount int64) (ledger.TransferResult, error) {
	s.lastUser, s.lastTarget, s.lastQty = from, to, amount
	return s.transferResp, s.transferErr
}

func (s *stubLedger) Rob(ctx context.Context, robberID, victimID int64) (ledger.RobResult, error) {
	s.lastUser, s.lastTarget = robberID, victimID
	return s.robResp, s.robErr
}

func (s *stubLedger) UseItem(ctx context.Context, userID int64, itemName string) (ledger.UseResult, error) {
	s.lastUser, s.lastItem = userID, itemName
	return s.useResp, s.useErr
}

type stubMetrics struct {
	recorded []string
	startErr error
	stopErr  error
	status   metrics.Status

	lastSince time.Time
	lastLimit int
	lastQuery metrics.Query
	snaps     []model.Snapshot
	series    metrics.Series
	seriesErr error
}

func (m *stubMetrics) RecordMessage(authorID, channelID string, isBot bool) bool {
	if isBot {
		return false
	}
	m.recorded = append(m.recorded, authorID+"@"+channelID)
	return true
}

func (m *stubMetrics) Start(ctx context.Context) error { return m.startErr }
func (m *stubMetrics) Stop(ctx context.Context) error  { return m.stopErr }
func (m *stubMetrics) Status() metrics.Status          { return m.status }

func (m *stubMetrics) Since(now time.Time, span *timeutil.Span) time.Time {
	if span == nil {
		return timeutil.StartOfDay(now, time.UTC)
	}
	return now.Add(-span.Duration)
}

func (m *stubMetrics) QueryRange(ctx context.Context, since time.Time, limit int) ([]model.Snapshot, error) {
	m.lastSince, m.lastLimit = since, limit
	return m.snaps, nil
}

func (m *stubMetrics) SeriesFor(q metrics.Query, snaps []model.Snapshot) (metrics.Series, error) {
	m.lastQuery = q
	return m.series, m.seriesErr
}

type stubResolver struct {
	names map[string]int64
}

func (r stubResolver) Resolve(ctx context.Context, ref members.Ref) (int64, error) {
	return members.NewResolver(r).Resolve(ctx, ref)
}

func (r stubResolver) ListMembers(ctx context.Context) ([]members.Member, error) {
	var list []members.Member
	for name, id := range r.names {
		list = append(list, members.Member{ID: id, Name: name})
	}
	return list, nil
}

var fixedNow = time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)

func newTestHandler(t *testing.T, l Ledger, m Metrics) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")
	res := stubResolver{names: map[string]int64{"alice": 2, "bob": 3}}

	h := NewHandler(l, m, res, logger, auth)
	h.now = func() time.Time { return fixedNow }
	return h
}

// call прогоняет запрос через полный роутер от имени пользователя 1.
func call(t *testing.T, h *Handler, method, target, body string) (*http.Response, response) {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer "+h.authMiddleware.SignToken(1))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	var resp response
	if strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return res, resp
}

func TestRouter_RequiresToken(t *testing.T) {
	h := newTestHandler(t, &stubLedger{}, &stubMetrics{})

	req := httptest.NewRequest(http.MethodGet, "/api/economy/balance", nil)
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestWithdraw(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantAmount validation.Amount
	}{
		{name: "number", body: `{"amount":30}`, wantStatus: http.StatusOK, wantAmount: validation.Exact(30)},
		{name: "string", body: `{"amount":"30"}`, wantStatus: http.StatusOK, wantAmount: validation.Exact(30)},
		{name: "all", body: `{"amount":"ALL"}`, wantStatus: http.StatusOK, wantAmount: validation.All()},
		{name: "negative", body: `{"amount":-3}`, wantStatus: http.StatusBadRequest},
		{name: "garbage", body: `{"amount":"lots"}`, wantStatus: http.StatusBadRequest},
		{name: "bad json", body: `{`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &stubLedger{moveResp: ledger.MoveResult{Amount: 30}}
			h := newTestHandler(t, l, &stubMetrics{})

			res, resp := call(t, h, http.MethodPost, "/api/economy/withdraw", tt.body)
			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				if resp.Notice.Severity != model.SeverityError {
					t.Fatalf("severity = %q, want error", resp.Notice.Severity)
				}
				return
			}
			if l.lastAmount != tt.wantAmount {
				t.Fatalf("amount = %+v, want %+v", l.lastAmount, tt.wantAmount)
			}
			if l.lastUser != 1 {
				t.Fatalf("user = %d, want 1", l.lastUser)
			}
		})
	}
}

func TestDeposit_InsufficientFunds(t *testing.T) {
	l := &stubLedger{moveErr: model.ErrInsufficientCashFunds}
	h := newTestHandler(t, l, &stubMetrics{})

	res, resp := call(t, h, http.MethodPost, "/api/economy/deposit", `{"amount":500}`)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
	if resp.Notice.Title != "Insufficient funds" {
		t.Fatalf("title = %q", resp.Notice.Title)
	}
}

func TestGetBalance_ResolvesTarget(t *testing.T) {
	l := &stubLedger{balanceResp: model.Balance{Cash: 1, Bank: 2, NetWorth: 3}}
	h := newTestHandler(t, l, &stubMetrics{})

	res, _ := call(t, h, http.MethodGet, "/api/economy/balance", "")
	if res.StatusCode != http.StatusOK || l.lastUser != 1 {
		t.Fatalf("self balance: status %d, user %d", res.StatusCode, l.lastUser)
	}

	res, _ = call(t, h, http.MethodGet, "/api/economy/balance?user=Alice", "")
	if res.StatusCode != http.StatusOK || l.lastUser != 2 {
		t.Fatalf("named balance: status %d, user %d", res.StatusCode, l.lastUser)
	}

	res, _ = call(t, h, http.MethodGet, "/api/economy/balance?user=%3C%4099%3E", "")
	if res.StatusCode != http.StatusOK || l.lastUser != 99 {
		t.Fatalf("mention balance: status %d, user %d", res.StatusCode, l.lastUser)
	}

	res, resp := call(t, h, http.MethodGet, "/api/economy/balance?user=nobody", "")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
	if resp.Notice.Title != "Unknown user" {
		t.Fatalf("title = %q", resp.Notice.Title)
	}
}

func TestGetLeaderboard_Limit(t *testing.T) {
	l := &stubLedger{board: []ledger.Standing{
		{Rank: 1, UserID: 5, Wealth: 100},
		{Rank: 2, UserID: 6, Wealth: 50},
		{Rank: 3, UserID: 7, Wealth: 10},
	}}
	h := newTestHandler(t, l, &stubMetrics{})

	res, resp := call(t, h, http.MethodGet, "/api/economy/leaderboard?limit=2", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if resp.Notice.Description != "1. 5: 100\n2. 6: 50" {
		t.Fatalf("description = %q", resp.Notice.Description)
	}

	res, _ = call(t, h, http.MethodGet, "/api/economy/leaderboard?limit=x", "")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestWork_Cooldown(t *testing.T) {
	l := &stubLedger{outcomeErr: &model.CooldownError{Command: "work", Remaining: 90 * time.Second}}
	h := newTestHandler(t, l, &stubMetrics{})

	res, resp := call(t, h, http.MethodPost, "/api/economy/work", "")
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusTooManyRequests)
	}
	if resp.Notice.Description != "You can use work again in 1m30s" {
		t.Fatalf("description = %q", resp.Notice.Description)
	}
}

func TestWager_Routes(t *testing.T) {
	l := &stubLedger{outcome: ledger.Outcome{Won: false, Amount: 70}}
	h := newTestHandler(t, l, &stubMetrics{})

	res, resp := call(t, h, http.MethodPost, "/api/economy/hustle", "")
	if res.StatusCode != http.StatusOK || l.lastWager != "hustle" {
		t.Fatalf("hustle: status %d, job %q", res.StatusCode, l.lastWager)
	}
	if resp.Notice.Severity != model.SeverityWarning {
		t.Fatalf("severity = %q, want warning", resp.Notice.Severity)
	}

	l.outcome = ledger.Outcome{Won: true, Amount: 300}
	res, resp = call(t, h, http.MethodPost, "/api/economy/crime", "")
	if res.StatusCode != http.StatusOK || l.lastWager != "crime" {
		t.Fatalf("crime: status %d, job %q", res.StatusCode, l.lastWager)
	}
	if resp.Notice.Title != "Crime" || resp.Notice.Severity != model.SeveritySuccess {
		t.Fatalf("notice = %+v", resp.Notice)
	}
}

func TestTakeLoan_Refused(t *testing.T) {
	l := &stubLedger{loanErr: model.ErrLoanLimitExceeded}
	h := newTestHandler(t, l, &stubMetrics{})

	res, resp := call(t, h, http.MethodPost, "/api/economy/loan", `{"amount":1000}`)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
	if resp.Notice.Title != "Loan refused" || l.lastQty != 1000 {
		t.Fatalf("notice = %+v, amount = %d", resp.Notice, l.lastQty)
	}
}

func TestBuy_DefaultsQuantity(t *testing.T) {
	l := &stubLedger{tradeResp: ledger.TradeResult{Item: "cookie", Quantity: 1, Total: 5}}
	h := newTestHandler(t, l, &stubMetrics{})

	res, resp := call(t, h, http.MethodPost, "/api/economy/buy", `{"item":"Cookie"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if l.lastItem != "Cookie" || l.lastQty != 1 {
		t.Fatalf("item = %q, qty = %d", l.lastItem, l.lastQty)
	}
	if resp.Notice.Description != "You bought 1 cookie for 5" {
		t.Fatalf("description = %q", resp.Notice.Description)
	}

	res, _ = call(t, h, http.MethodPost, "/api/economy/sell", `{"quantity":2}`)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestSell_NotEnoughItems(t *testing.T) {
	l := &stubLedger{tradeErr: model.ErrInsufficientItems}
	h := newTestHandler(t, l, &stubMetrics{})

	res, _ := call(t, h, http.MethodPost, "/api/economy/sell", `{"item":"cookie","quantity":9}`)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestGive(t *testing.T) {
	l := &stubLedger{transferResp: ledger.TransferResult{Amount: 15}}
	h := newTestHandler(t, l, &stubMetrics{})

	res, _ := call(t, h, http.MethodPost, "/api/economy/give", `{"to":"bob","amount":15}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if l.lastUser != 1 || l.lastTarget != 3 || l.lastQty != 15 {
		t.Fatalf("transfer %d -> %d of %d", l.lastUser, l.lastTarget, l.lastQty)
	}

	l.transferErr = model.ErrNegativeAmount
	res, resp := call(t, h, http.MethodPost, "/api/economy/give", `{"to":"bob","amount":-1}`)
	if res.StatusCode != http.StatusBadRequest || resp.Notice.Title != "Invalid amount" {
		t.Fatalf("status = %d, notice = %+v", res.StatusCode, resp.Notice)
	}
}

func TestRob(t *testing.T) {
	l := &stubLedger{robResp: ledger.RobResult{Success: true, Amount: 120}}
	h := newTestHandler(t, l, &stubMetrics{})

	res, resp := call(t, h, http.MethodPost, "/api/economy/rob", `{"victim":"alice"}`)
	if res.StatusCode != http.StatusOK || l.lastTarget != 2 {
		t.Fatalf("status = %d, victim = %d", res.StatusCode, l.lastTarget)
	}
	if resp.Notice.Description != "You robbed 2 and got 120" {
		t.Fatalf("description = %q", resp.Notice.Description)
	}

	l.robErr = model.ErrRobPrecondition
	res, _ = call(t, h, http.MethodPost, "/api/economy/rob", `{"victim":"alice"}`)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestUseItem(t *testing.T) {
	l := &stubLedger{useResp: ledger.UseResult{Item: "vip pass", Role: "VIP"}}
	h := newTestHandler(t, l, &stubMetrics{})

	_, resp := call(t, h, http.MethodPost, "/api/economy/use", `{"item":"vip pass"}`)
	if resp.Notice.Description != "You used vip pass and got the VIP role" {
		t.Fatalf("description = %q", resp.Notice.Description)
	}

	l.useResp = ledger.UseResult{Item: "cookie"}
	_, resp = call(t, h, http.MethodPost, "/api/economy/use", `{"item":"cookie"}`)
	if resp.Notice.Description != "You used cookie; no role associated" {
		t.Fatalf("description = %q", resp.Notice.Description)
	}
}

func TestInternalErrorIsHidden(t *testing.T) {
	l := &stubLedger{balanceErr: errors.New("pq: connection refused")}
	h := newTestHandler(t, l, &stubMetrics{})

	res, resp := call(t, h, http.MethodGet, "/api/economy/balance", "")
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
	if strings.Contains(resp.Notice.Description, "connection refused") {
		t.Fatalf("internal error leaked: %q", resp.Notice.Description)
	}
}

func TestRecordMessage(t *testing.T) {
	m := &stubMetrics{}
	h := newTestHandler(t, &stubLedger{}, m)

	res, _ := call(t, h, http.MethodPost, "/api/metrics/messages", `{"author_id":"42","channel_id":10,"bot":false}`)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}
	if len(m.recorded) != 1 || m.recorded[0] != "42@10" {
		t.Fatalf("recorded = %v", m.recorded)
	}

	res, _ = call(t, h, http.MethodPost, "/api/metrics/messages", `{"author_id":"42"}`)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestStartStopMetrics(t *testing.T) {
	since := fixedNow
	m := &stubMetrics{status: metrics.Status{State: metrics.StateTracking, TrackingSince: &since}}
	h := newTestHandler(t, &stubLedger{}, m)

	res, resp := call(t, h, http.MethodPost, "/api/metrics/start", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if resp.Notice.Description != "Time: 15:30, 01 March, 2024" {
		t.Fatalf("description = %q", resp.Notice.Description)
	}

	m.stopErr = model.ErrMetricsState
	res, _ = call(t, h, http.MethodPost, "/api/metrics/stop", "")
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}

	res, resp = call(t, h, http.MethodGet, "/api/metrics/status", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if !strings.Contains(resp.Notice.Description, "Last data dump: never") {
		t.Fatalf("description = %q", resp.Notice.Description)
	}
}

func TestGetMetrics(t *testing.T) {
	m := &stubMetrics{series: metrics.Series{Label: "member 2", X: []string{"01/03/"}, Y: []int64{4}}}
	h := newTestHandler(t, &stubLedger{}, m)

	res, resp := call(t, h, http.MethodGet, "/api/metrics?span=3d&limit=5&kind=member&id=alice&zero_fill=true", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if !m.lastSince.Equal(fixedNow.Add(-72 * time.Hour)) {
		t.Fatalf("since = %v", m.lastSince)
	}
	if m.lastLimit != 5 {
		t.Fatalf("limit = %d", m.lastLimit)
	}
	want := metrics.Query{Kind: metrics.KindMember, ObjectID: "2", Unit: timeutil.Days, ZeroFillAbsent: true}
	if m.lastQuery != want {
		t.Fatalf("query = %+v, want %+v", m.lastQuery, want)
	}
	if resp.Notice.Title != "Messages sent by member 2, days" {
		t.Fatalf("title = %q", resp.Notice.Title)
	}
}

func TestGetMetrics_DefaultsToToday(t *testing.T) {
	m := &stubMetrics{series: metrics.Series{Label: "total"}}
	h := newTestHandler(t, &stubLedger{}, m)

	res, _ := call(t, h, http.MethodGet, "/api/metrics", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if !m.lastSince.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("since = %v", m.lastSince)
	}
	if m.lastQuery.Unit != timeutil.Hours || m.lastQuery.Kind != metrics.KindTotal {
		t.Fatalf("query = %+v", m.lastQuery)
	}
}

func TestGetMetrics_BadInput(t *testing.T) {
	tests := []struct {
		name   string
		target string
		status int
	}{
		{name: "unit", target: "/api/metrics?span=5x", status: http.StatusBadRequest},
		{name: "no number", target: "/api/metrics?span=h", status: http.StatusBadRequest},
		{name: "kind", target: "/api/metrics?kind=role", status: http.StatusBadRequest},
		{name: "limit", target: "/api/metrics?limit=-1", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubLedger{}, &stubMetrics{})
			res, _ := call(t, h, http.MethodGet, tt.target, "")
			if res.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.status)
			}
		})
	}
}

func TestGetMetrics_AbsentObject(t *testing.T) {
	m := &stubMetrics{seriesErr: model.ErrUnknownObjectInSnapshot}
	h := newTestHandler(t, &stubLedger{}, m)

	res, _ := call(t, h, http.MethodGet, "/api/metrics?kind=channel&id=10", "")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}
