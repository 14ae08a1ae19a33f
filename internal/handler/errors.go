package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/crajybot/internal/members"
	"github.com/mmeshcher/crajybot/internal/middleware"
	"github.com/mmeshcher/crajybot/internal/model"
)

type errorClass struct {
	target error
	status int
	title  string
}

// errorClasses сопоставляет доменные ошибки со статусом и заголовком уведомления. Порядок важен:
// первое совпадение по errors.Is побеждает.
var errorClasses = []errorClass{
	{model.ErrOnCooldown, http.StatusTooManyRequests, "Slow down"},
	{model.ErrInsufficientFunds, http.StatusConflict, "Insufficient funds"},
	{model.ErrInvalidAmount, http.StatusBadRequest, "Invalid amount"},
	{model.ErrItemNotFound, http.StatusNotFound, "Item not found"},
	{model.ErrOutOfStock, http.StatusConflict, "Out of stock"},
	{model.ErrInsufficientItems, http.StatusConflict, "Not enough items"},
	{model.ErrExistingDebt, http.StatusConflict, "Loan refused"},
	{model.ErrLoanLimitExceeded, http.StatusConflict, "Loan refused"},
	{model.ErrNoDebt, http.StatusConflict, "Nothing to repay"},
	{model.ErrUnknownUser, http.StatusNotFound, "Unknown user"},
	{model.ErrSameAccount, http.StatusConflict, "Invalid target"},
	{model.ErrRobPrecondition, http.StatusConflict, "Robbery refused"},
	{model.ErrUnsupportedTimeUnit, http.StatusBadRequest, "Invalid time span"},
	{model.ErrInvalidDuration, http.StatusBadRequest, "Invalid time span"},
	{model.ErrInvalidQuery, http.StatusBadRequest, "Invalid query"},
	{model.ErrUnknownObjectInSnapshot, http.StatusNotFound, "No data"},
	{model.ErrMetricsState, http.StatusConflict, "Metrics"},
}

// classify возвращает статус и уведомление для ошибки. Неизвестные ошибки считаются внутренними.
func classify(err error) (int, model.Notice, bool) {
	var cd *model.CooldownError
	if errors.As(err, &cd) {
		return http.StatusTooManyRequests, model.Notice{
			Title:       "Slow down",
			Description: fmt.Sprintf("You can use %s again in %s", cd.Command, cd.Remaining.Round(time.Second)),
			Severity:    model.SeverityError,
		}, true
	}

	var rl *members.RateLimitedError
	if errors.As(err, &rl) {
		return http.StatusServiceUnavailable, model.Notice{
			Title:       "Try again later",
			Description: "The member directory is busy",
			Severity:    model.SeverityError,
		}, true
	}

	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.status, model.Notice{Title: c.title, Description: err.Error(), Severity: model.SeverityError}, true
		}
	}

	return http.StatusInternalServerError, model.Notice{
		Title:       "Something went wrong",
		Description: http.StatusText(http.StatusInternalServerError),
		Severity:    model.SeverityError,
	}, false
}

// fail переводит ошибку в ответ. Внутренние ошибки логируются.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, notice, known := classify(err)
	if !known {
		fields := []zap.Field{zap.Error(err), zap.String("path", r.URL.Path)}
		if userID, ok := middleware.GetUserIDFromContext(r.Context()); ok {
			fields = append(fields, zap.Int64("userID", userID))
		}
		h.logger.Error("command error", fields...)
	}

	writeJSON(w, status, response{Notice: notice})
}
