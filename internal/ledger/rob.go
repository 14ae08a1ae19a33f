package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/crajybot/internal/model"
	"github.com/mmeshcher/crajybot/internal/repository"
)

// RobRules задаёт параметры ограбления.
type RobRules struct {
	Cooldown time.Duration
	Tool     string
	// MinVictimCash - у жертвы должно быть строго больше наличных.
	MinVictimCash int64
	// Успех с вероятностью SuccessOf из SuccessIn.
	SuccessOf, SuccessIn int
	TakeMinPct, TakeMaxPct int64
	FineMin, FineMax       int64
}

// DefaultRobRules возвращает правила по умолчанию: успех 3 из 4, добыча 50–80% наличных, штраф 75–200.
func DefaultRobRules() RobRules {
	return RobRules{
		Cooldown:      time.Hour,
		Tool:          "heist tools",
		MinVictimCash: 10,
		SuccessOf:     3,
		SuccessIn:     4,
		TakeMinPct:    50,
		TakeMaxPct:    80,
		FineMin:       75,
		FineMax:       200,
	}
}

// RobResult - исход ограбления.
type RobResult struct {
	Success   bool
	Amount    int64
	ToolsLeft int64
	Robber    model.Balance
	Victim    model.Balance
}

// Rob пытается ограбить наличные жертвы, расходуя один инструмент.
// Окно команды занимается при любом исходе и возвращается, если ограбление не состоялось.
func (s *Service) Rob(ctx context.Context, robberID, victimID int64) (RobResult, error) {
	rules := s.opts.Rob
	var res RobResult

	err := s.guarded(ctx, "rob", robberID, rules.Cooldown, func() error {
		return s.repo.InTx(ctx, func(tx repository.Tx) error {
			robber, victim, err := tx.AccountPair(ctx, robberID, victimID)
			if err != nil {
				return err
			}

			if robber.Inventory[rules.Tool] <= 0 {
				return fmt.Errorf("%w: no %s", model.ErrRobPrecondition, rules.Tool)
			}
			if victim.Cash <= rules.MinVictimCash {
				return fmt.Errorf("%w: victim has %d cash", model.ErrRobPrecondition, victim.Cash)
			}

			robber.Inventory[rules.Tool]--

			if s.opts.Rand.IntN(rules.SuccessIn) < rules.SuccessOf {
				pct := s.randRange(rules.TakeMinPct, rules.TakeMaxPct)
				take := victim.Cash * pct / 100
				victim.Cash -= take
				robber.Cash += take
				res = RobResult{Success: true, Amount: take}

				if err := tx.SaveAccount(ctx, victim); err != nil {
					return err
				}
			} else {
				fine := s.charge(robber, s.randRange(rules.FineMin, rules.FineMax))
				res = RobResult{Success: false, Amount: fine}
			}

			if err := tx.SaveAccount(ctx, robber); err != nil {
				return err
			}

			res.ToolsLeft = robber.Inventory[rules.Tool]
			res.Robber = model.BalanceOf(robber)
			res.Victim = model.BalanceOf(victim)
			return nil
		})
	})

	return res, err
}
