package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientFunds возвращается, если на счёте не хватает средств.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientBankFunds - не хватает средств в банке.
	ErrInsufficientBankFunds = fmt.Errorf("%w: bank", ErrInsufficientFunds)
	// ErrInsufficientCashFunds - не хватает наличных.
	ErrInsufficientCashFunds = fmt.Errorf("%w: cash", ErrInsufficientFunds)

	// ErrInvalidAmount - сумма не число или недопустима.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrNegativeAmount - отрицательная сумма.
	ErrNegativeAmount = fmt.Errorf("%w: negative", ErrInvalidAmount)

	ErrOnCooldown = errors.New("on cooldown")

	ErrItemNotFound      = errors.New("item not found")
	ErrOutOfStock        = errors.New("out of stock")
	ErrInsufficientItems = errors.New("not enough items in inventory")

	ErrExistingDebt      = errors.New("existing debt")
	ErrLoanLimitExceeded = errors.New("loan limit exceeded")
	ErrNoDebt            = errors.New("no debt")

	ErrUnknownUser = errors.New("unknown user")
	ErrSameAccount = errors.New("source and target accounts are the same")

	// ErrRobPrecondition - у грабителя нет инструментов или у жертвы слишком мало наличных.
	ErrRobPrecondition = errors.New("rob precondition failed")

	ErrUnsupportedTimeUnit     = errors.New("unsupported time unit")
	ErrInvalidDuration         = errors.New("invalid duration")
	ErrUnknownObjectInSnapshot = errors.New("unknown object in snapshot")
	ErrMetricsState            = errors.New("metrics tracking is in the wrong state")
	ErrInvalidQuery            = errors.New("invalid metrics query")
)

// CooldownError сообщает, сколько осталось до следующего успешного вызова команды.
type CooldownError struct {
	Command   string
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s on cooldown for %s", e.Command, e.Remaining.Round(time.Second))
}

// Is позволяет сравнивать CooldownError с ErrOnCooldown через errors.Is.
func (e *CooldownError) Is(target error) bool {
	return target == ErrOnCooldown
}
