// Package ledger реализует экономику сервера: банк, заработок, кредиты, магазин, переводы и ограбления.
package ledger

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/crajybot/internal/cooldown"
	"github.com/mmeshcher/crajybot/internal/model"
	"github.com/mmeshcher/crajybot/internal/repository"
)

// Repository описывает контракт хранилища, используемый движком.
type Repository interface {
	InTx(ctx context.Context, fn func(repository.Tx) error) error
	GetAccount(ctx context.Context, userID int64) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	ListShopItems(ctx context.Context) ([]model.ShopItem, error)
}

// RoleGranter выдаёт роль участнику сервера.
type RoleGranter interface {
	GrantRole(ctx context.Context, userID int64, role string) error
}

// Random - источник равномерно распределённых целых в [0, n).
type Random interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Options задаёт параметры движка.
type Options struct {
	// CapLossesAtCash не даёт проигрышам, штрафам и дефолту уводить наличные в минус.
	CapLossesAtCash bool

	LoanReminderDelay time.Duration
	LoanDefaultDelay  time.Duration

	Rob RobRules

	Now  func() time.Time
	Rand Random
}

// DefaultOptions возвращает параметры по умолчанию.
func DefaultOptions() Options {
	return Options{
		LoanReminderDelay: 18 * time.Hour,
		LoanDefaultDelay:  6 * time.Hour,
		Rob:               DefaultRobRules(),
		Now:               time.Now,
		Rand:              globalRand{},
	}
}

// Service - движок экономики.
type Service struct {
	repo      Repository
	cooldowns cooldown.Store
	roles     RoleGranter
	logger    *zap.Logger
	opts      Options
}

// NewService создаёт движок экономики.
func NewService(repo Repository, cooldowns cooldown.Store, roles RoleGranter, logger *zap.Logger, opts Options) *Service {
	def := DefaultOptions()
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if opts.Rand == nil {
		opts.Rand = def.Rand
	}
	if opts.LoanReminderDelay <= 0 {
		opts.LoanReminderDelay = def.LoanReminderDelay
	}
	if opts.LoanDefaultDelay <= 0 {
		opts.LoanDefaultDelay = def.LoanDefaultDelay
	}
	if opts.Rob == (RobRules{}) {
		opts.Rob = def.Rob
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:      repo,
		cooldowns: cooldowns,
		roles:     roles,
		logger:    logger,
		opts:      opts,
	}
}

// randRange возвращает равномерное целое из [lo, hi].
func (s *Service) randRange(lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + int64(s.opts.Rand.IntN(int(hi-lo+1)))
}

// charge списывает amount наличных. С CapLossesAtCash списывается не больше, чем есть.
func (s *Service) charge(a *model.Account, amount int64) int64 {
	return Charge(a, amount, s.opts.CapLossesAtCash)
}

// Charge списывает amount наличных со счёта и возвращает фактически списанную сумму.
// По умолчанию наличные могут уйти в минус.
func Charge(a *model.Account, amount int64, capAtCash bool) int64 {
	if capAtCash && amount > a.Cash {
		amount = max(a.Cash, 0)
	}
	a.Cash -= amount
	return amount
}

// guarded занимает окно команды и возвращает его, если fn завершилась ошибкой.
func (s *Service) guarded(ctx context.Context, command string, userID int64, window time.Duration, fn func() error) error {
	if err := s.cooldowns.Acquire(ctx, command, userID, window); err != nil {
		return err
	}

	if err := fn(); err != nil {
		if relErr := s.cooldowns.Release(ctx, command, userID); relErr != nil {
			s.logger.Error("release cooldown error",
				zap.Error(relErr),
				zap.String("command", command),
				zap.Int64("userID", userID),
			)
		}
		return err
	}
	return nil
}
