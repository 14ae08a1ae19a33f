// Package loan следит за сроками кредитов: напоминает о долге и списывает его при дефолте.
// Сроки хранятся в базе, поэтому перезапуск процесса их не теряет.
package loan

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mmeshcher/crajybot/internal/ledger"
	"github.com/mmeshcher/crajybot/internal/model"
	"github.com/mmeshcher/crajybot/internal/repository"
)

const (
	reminderText = "You're about to default on your loan"
	defaultText  = "You defaulted on your loan: the debt was written off your cash with a 10% penalty"
)

// Repository - часть хранилища, нужная планировщику.
type Repository interface {
	InTx(ctx context.Context, fn func(repository.Tx) error) error
	DueLoans(ctx context.Context, now time.Time) ([]model.Loan, error)
}

// Notifier доставляет личные сообщения.
type Notifier interface {
	DirectMessage(ctx context.Context, userID int64, n model.Notice) error
}

// Options задаёт параметры планировщика.
type Options struct {
	// Schedule - cron-выражение обхода, например "@every 1m".
	Schedule        string
	CapLossesAtCash bool
	Now             func() time.Time
}

// Scheduler периодически обходит кредиты с наступившими сроками.
type Scheduler struct {
	repo     Repository
	notifier Notifier
	cron     *cron.Cron
	logger   *zap.Logger
	opts     Options

	entry cron.EntryID
}

// NewScheduler создаёт планировщик кредитов поверх общего cron.
func NewScheduler(repo Repository, notifier Notifier, c *cron.Cron, logger *zap.Logger, opts Options) *Scheduler {
	if opts.Schedule == "" {
		opts.Schedule = "@every 1m"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		repo:     repo,
		notifier: notifier,
		cron:     c,
		logger:   logger,
		opts:     opts,
	}
}

// Start регистрирует обход в cron. Просроченное за время простоя обрабатывается первым же обходом.
func (s *Scheduler) Start(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.opts.Schedule, func() {
		s.Sweep(ctx, s.opts.Now())
	})
	if err != nil {
		return fmt.Errorf("schedule loan sweep %q: %w", s.opts.Schedule, err)
	}
	s.entry = id

	s.logger.Info("scheduled loan sweep", zap.String("schedule", s.opts.Schedule))
	return nil
}

// Stop снимает обход с расписания.
func (s *Scheduler) Stop() {
	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
	}
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeCleared
	outcomeReminded
	outcomeDefaulted
)

// Sweep обрабатывает кредиты со сроком не позже now. Ошибки логируются и не прерывают обход.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) {
	if ctx.Err() != nil {
		return
	}

	due, err := s.repo.DueLoans(ctx, now)
	if err != nil {
		s.logger.Error("load due loans error", zap.Error(err))
		return
	}

	for _, l := range due {
		if ctx.Err() != nil {
			return
		}

		res, penalty, err := s.settle(ctx, l, now)
		if err != nil {
			s.logger.Error("settle loan error", zap.Error(err), zap.Int64("userID", l.UserID))
			continue
		}

		switch res {
		case outcomeReminded:
			s.notify(ctx, l.UserID, model.Notice{
				Title:       "Loan reminder",
				Description: reminderText,
				Severity:    model.SeverityWarning,
			})
		case outcomeDefaulted:
			s.logger.Info("loan defaulted", zap.Int64("userID", l.UserID), zap.Int64("charged", penalty))
			s.notify(ctx, l.UserID, model.Notice{
				Title:       "Loan defaulted",
				Description: defaultText,
				Severity:    model.SeverityError,
			})
		}
	}
}

// settle выполняет переход одного кредита в транзакции. Уведомление отправляется после фиксации.
func (s *Scheduler) settle(ctx context.Context, l model.Loan, now time.Time) (outcome, int64, error) {
	res := outcomeNone
	var charged int64

	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		res, charged = outcomeNone, 0

		current, err := tx.Loan(ctx, l.UserID)
		if err != nil {
			return err
		}
		if current == nil {
			return nil
		}

		a, err := tx.Account(ctx, l.UserID)
		if err != nil {
			return err
		}

		if a.Debt == 0 {
			res = outcomeCleared
			return tx.DeleteLoan(ctx, l.UserID)
		}

		if !current.DefaultAt.After(now) {
			a.Debt = 0
			charged = ledger.Charge(a, ledger.DefaultPenalty(current.Amount), s.opts.CapLossesAtCash)
			if err := tx.SaveAccount(ctx, a); err != nil {
				return err
			}
			res = outcomeDefaulted
			return tx.DeleteLoan(ctx, l.UserID)
		}

		if !current.Reminded && !current.RemindAt.After(now) {
			current.Reminded = true
			if err := tx.SaveLoan(ctx, current); err != nil {
				return err
			}
			res = outcomeReminded
		}
		return nil
	})

	return res, charged, err
}

func (s *Scheduler) notify(ctx context.Context, userID int64, n model.Notice) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.DirectMessage(ctx, userID, n); err != nil {
		s.logger.Warn("direct message error", zap.Error(err), zap.Int64("userID", userID))
	}
}
