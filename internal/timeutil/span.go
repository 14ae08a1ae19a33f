// Package timeutil разбирает интервалы вида "6h"/"3d" и группирует снимки метрик по дням.
package timeutil

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/mmeshcher/crajybot/internal/model"
)

// Unit - единица времени, в которой строится ось графика.
type Unit string

const (
	Hours Unit = "hours"
	Days  Unit = "days"
)

// ParseUnit нормализует название единицы по префиксу: "h", "hours" -> Hours; "d", "days" -> Days.
func ParseUnit(text string) (Unit, error) {
	u := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.HasPrefix(u, "h"):
		return Hours, nil
	case strings.HasPrefix(u, "d"):
		return Days, nil
	default:
		return "", fmt.Errorf("%w: expecting hours or days, got %q", model.ErrUnsupportedTimeUnit, text)
	}
}

// Span - разобранный интервал: длительность и единица, в которой он задан.
type Span struct {
	Duration time.Duration
	Unit     Unit
}

// ParseDurationSpec разбирает строку из ведущих цифр и хвостовой единицы: "6h" -> 6 часов.
func ParseDurationSpec(text string) (Span, error) {
	s := strings.TrimSpace(text)

	i := 0
	for i < len(s) && unicode.IsDigit(rune(s[i])) {
		i++
	}

	if i == 0 {
		return Span{}, fmt.Errorf("%w: %q has no leading number", model.ErrInvalidDuration, text)
	}

	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return Span{}, fmt.Errorf("%w: %q: %v", model.ErrInvalidDuration, text, err)
	}

	unit, err := ParseUnit(s[i:])
	if err != nil {
		return Span{}, err
	}

	step := time.Hour
	if unit == Days {
		step = 24 * time.Hour
	}
	if int64(n) > math.MaxInt64/int64(step) {
		return Span{}, fmt.Errorf("%w: %q is too long", model.ErrInvalidDuration, text)
	}

	span := Span{Unit: unit, Duration: time.Duration(n) * step}

	return span, nil
}

// StartOfDay возвращает полночь дня t в зоне loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
