package ledger

import (
	"context"
	"fmt"

	"github.com/mmeshcher/crajybot/internal/model"
	"github.com/mmeshcher/crajybot/internal/repository"
)

// LoanResult - результат выдачи кредита.
type LoanResult struct {
	Amount  int64
	Fee     int64
	Loan    model.Loan
	Balance model.Balance
}

// TakeLoan выдаёт кредит меньше удвоенного банка при отсутствии долга и ставит его в расписание напоминаний.
func (s *Service) TakeLoan(ctx context.Context, userID int64, amount int64) (LoanResult, error) {
	if amount <= 0 {
		return LoanResult{}, fmt.Errorf("%w: loan must be positive", model.ErrInvalidAmount)
	}

	var res LoanResult

	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		a, err := tx.Account(ctx, userID)
		if err != nil {
			return err
		}

		if a.Debt != 0 {
			return fmt.Errorf("%w: %d outstanding", model.ErrExistingDebt, a.Debt)
		}
		if amount >= 2*a.Bank {
			return fmt.Errorf("%w: %d is not below twice the bank balance %d", model.ErrLoanLimitExceeded, amount, a.Bank)
		}

		fee := LoanFee(amount)
		a.Debt += amount + fee
		a.Bank += amount

		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}

		now := s.opts.Now()
		loan := model.Loan{
			UserID:    userID,
			Amount:    amount,
			TakenAt:   now,
			RemindAt:  now.Add(s.opts.LoanReminderDelay),
			DefaultAt: now.Add(s.opts.LoanReminderDelay + s.opts.LoanDefaultDelay),
		}
		if err := tx.SaveLoan(ctx, &loan); err != nil {
			return err
		}

		res = LoanResult{Amount: amount, Fee: fee, Loan: loan, Balance: model.BalanceOf(a)}
		return nil
	})

	return res, err
}

// RepayLoan гасит весь долг наличными и снимает кредит с расписания.
func (s *Service) RepayLoan(ctx context.Context, userID int64) (MoveResult, error) {
	var res MoveResult

	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		a, err := tx.Account(ctx, userID)
		if err != nil {
			return err
		}

		if a.Debt <= 0 {
			return model.ErrNoDebt
		}
		if a.Cash < a.Debt {
			return fmt.Errorf("%w: have %d, debt %d", model.ErrInsufficientCashFunds, a.Cash, a.Debt)
		}

		paid := a.Debt
		a.Cash -= paid
		a.Debt = 0

		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		if err := tx.DeleteLoan(ctx, userID); err != nil {
			return err
		}

		res = MoveResult{Amount: paid, Balance: model.BalanceOf(a)}
		return nil
	})

	return res, err
}
