package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/mmeshcher/crajybot/internal/model"
	"github.com/mmeshcher/crajybot/internal/repository"
	"github.com/mmeshcher/crajybot/internal/validation"
)

// MoveResult - результат перемещения денег между банком и наличными.
type MoveResult struct {
	Amount  int64
	Balance model.Balance
}

// Withdraw переводит сумму из банка в наличные.
func (s *Service) Withdraw(ctx context.Context, userID int64, amount validation.Amount) (MoveResult, error) {
	var res MoveResult

	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		a, err := tx.Account(ctx, userID)
		if err != nil {
			return err
		}

		v := amount.Value
		if amount.All {
			v = a.Bank
		}
		if v < 0 {
			return model.ErrNegativeAmount
		}
		if v > a.Bank {
			return fmt.Errorf("%w: have %d, want %d", model.ErrInsufficientBankFunds, a.Bank, v)
		}

		a.Bank -= v
		a.Cash += v
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}

		res = MoveResult{Amount: v, Balance: model.BalanceOf(a)}
		return nil
	})

	return res, err
}

// Deposit переводит сумму из наличных в банк.
func (s *Service) Deposit(ctx context.Context, userID int64, amount validation.Amount) (MoveResult, error) {
	var res MoveResult

	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		a, err := tx.Account(ctx, userID)
		if err != nil {
			return err
		}

		v := amount.Value
		if amount.All {
			v = max(a.Cash, 0)
		}
		if v < 0 {
			return model.ErrNegativeAmount
		}
		if v > a.Cash {
			return fmt.Errorf("%w: have %d, want %d", model.ErrInsufficientCashFunds, a.Cash, v)
		}

		a.Cash -= v
		a.Bank += v
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}

		res = MoveResult{Amount: v, Balance: model.BalanceOf(a)}
		return nil
	})

	return res, err
}

// Balance возвращает баланс пользователя без побочных эффектов, кроме ленивого создания счёта.
func (s *Service) Balance(ctx context.Context, userID int64) (model.Balance, error) {
	a, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return model.Balance{}, err
	}
	return model.BalanceOf(a), nil
}

// Standing - строка рейтинга.
type Standing struct {
	Rank   int   `json:"rank"`
	UserID int64 `json:"user_id"`
	Wealth int64 `json:"wealth"`
}

// RankAccounts упорядочивает счета по убыванию cash+bank. Равные сохраняют исходный порядок.
func RankAccounts(accounts []model.Account) []Standing {
	sorted := make([]model.Account, len(accounts))
	copy(sorted, accounts)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Wealth() > sorted[j].Wealth()
	})

	res := make([]Standing, 0, len(sorted))
	for i, a := range sorted {
		res = append(res, Standing{Rank: i + 1, UserID: a.UserID, Wealth: a.Wealth()})
	}
	return res
}

// Leaderboard возвращает рейтинг всех счетов.
func (s *Service) Leaderboard(ctx context.Context) ([]Standing, error) {
	accounts, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return RankAccounts(accounts), nil
}

// TransferResult - результат перевода наличных.
type TransferResult struct {
	Amount   int64
	Sender   model.Balance
	Receiver model.Balance
}

// Transfer переводит наличные от одного пользователя другому одной транзакцией.
func (s *Service) Transfer(ctx context.Context, from, to int64, amount int64) (TransferResult, error) {
	if amount < 0 {
		return TransferResult{}, model.ErrNegativeAmount
	}

	var res TransferResult

	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		sender, receiver, err := tx.AccountPair(ctx, from, to)
		if err != nil {
			return err
		}

		if sender.Cash < amount {
			return fmt.Errorf("%w: have %d, want %d", model.ErrInsufficientCashFunds, sender.Cash, amount)
		}

		sender.Cash -= amount
		receiver.Cash += amount

		if err := tx.SaveAccount(ctx, sender); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, receiver); err != nil {
			return err
		}

		res = TransferResult{
			Amount:   amount,
			Sender:   model.BalanceOf(sender),
			Receiver: model.BalanceOf(receiver),
		}
		return nil
	})

	return res, err
}
