// Package validation содержит функции валидации входных данных команд.
package validation

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/mmeshcher/crajybot/internal/model"
)

// Amount - сумма команды: конкретное число или "all".
type Amount struct {
	Value int64
	All   bool
}

// Exact возвращает Amount с конкретным значением.
func Exact(v int64) Amount {
	return Amount{Value: v}
}

// All возвращает Amount, означающий весь доступный остаток.
func All() Amount {
	return Amount{All: true}
}

// ParseAmount разбирает сумму: положительное целое или "all" в любом регистре.
func ParseAmount(text string) (Amount, error) {
	s := strings.TrimSpace(text)
	if strings.EqualFold(s, "all") {
		return All(), nil
	}

	v, err := ParsePositive(s)
	if err != nil {
		return Amount{}, err
	}
	return Exact(v), nil
}

// ParsePositive разбирает строго положительное целое число.
func ParsePositive(text string) (int64, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", model.ErrInvalidAmount)
	}

	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: %s", model.ErrNegativeAmount, s)
	}

	for _, ch := range s {
		if !unicode.IsDigit(ch) {
			return 0, fmt.Errorf("%w: %q is not a number", model.ErrInvalidAmount, s)
		}
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrInvalidAmount, err)
	}
	if v == 0 {
		return 0, fmt.Errorf("%w: must be positive", model.ErrInvalidAmount)
	}

	return v, nil
}
