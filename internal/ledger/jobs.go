package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/crajybot/internal/model"
	"github.com/mmeshcher/crajybot/internal/repository"
)

// EarnJob - команда гарантированного заработка.
type EarnJob struct {
	Name     string
	Min, Max int64
	Cooldown time.Duration
}

// WagerJob - рискованная команда: выигрыш с вероятностью WinOdds из 10, иначе потеря.
type WagerJob struct {
	Name             string
	WinOdds          int
	WinMin, WinMax   int64
	LoseMin, LoseMax int64
	Cooldown         time.Duration
}

var (
	Work   = EarnJob{Name: "work", Min: 50, Max: 200, Cooldown: time.Hour}
	Hustle = WagerJob{Name: "hustle", WinOdds: 6, WinMin: 60, WinMax: 200, LoseMin: 60, LoseMax: 200, Cooldown: time.Hour}
	Crime  = WagerJob{Name: "crime", WinOdds: 4, WinMin: 150, WinMax: 400, LoseMin: 150, LoseMax: 250, Cooldown: time.Hour}
)

// Outcome - результат заработка или ставки.
type Outcome struct {
	Won     bool
	Amount  int64
	Balance model.Balance
}

// Earn начисляет случайную сумму из [Min, Max] не чаще раза за Cooldown.
func (s *Service) Earn(ctx context.Context, userID int64, job EarnJob) (Outcome, error) {
	if job.Min < 0 || job.Max < job.Min {
		return Outcome{}, fmt.Errorf("%w: earn range %d..%d", model.ErrInvalidAmount, job.Min, job.Max)
	}

	var res Outcome

	err := s.guarded(ctx, job.Name, userID, job.Cooldown, func() error {
		return s.repo.InTx(ctx, func(tx repository.Tx) error {
			a, err := tx.Account(ctx, userID)
			if err != nil {
				return err
			}

			v := s.randRange(job.Min, job.Max)
			a.Cash += v
			if err := tx.SaveAccount(ctx, a); err != nil {
				return err
			}

			res = Outcome{Won: true, Amount: v, Balance: model.BalanceOf(a)}
			return nil
		})
	})

	return res, err
}

// Wager тянет число от 1 до 10: не больше WinOdds - выигрыш из [WinMin, WinMax], иначе потеря из [LoseMin, LoseMax].
func (s *Service) Wager(ctx context.Context, userID int64, job WagerJob) (Outcome, error) {
	if job.WinOdds < 0 || job.WinOdds > 10 {
		return Outcome{}, fmt.Errorf("%w: win odds %d out of 10", model.ErrInvalidAmount, job.WinOdds)
	}

	var res Outcome

	err := s.guarded(ctx, job.Name, userID, job.Cooldown, func() error {
		return s.repo.InTx(ctx, func(tx repository.Tx) error {
			a, err := tx.Account(ctx, userID)
			if err != nil {
				return err
			}

			draw := 1 + s.opts.Rand.IntN(10)
			if draw <= job.WinOdds {
				v := s.randRange(job.WinMin, job.WinMax)
				a.Cash += v
				res = Outcome{Won: true, Amount: v}
			} else {
				v := s.charge(a, s.randRange(job.LoseMin, job.LoseMax))
				res = Outcome{Won: false, Amount: v}
			}

			if err := tx.SaveAccount(ctx, a); err != nil {
				return err
			}

			res.Balance = model.BalanceOf(a)
			return nil
		})
	})

	return res, err
}
