// Package schedule собирает общий cron-планировщик бота.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// zapLogger передаёт сообщения cron в zap.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

func (l zapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l zapLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// New создаёт планировщик в часовом поясе loc. Паника задачи логируется и не роняет процесс.
func New(loc *time.Location, logger *zap.Logger) *cron.Cron {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := zapLogger{sugar: logger.Named("cron").Sugar()}

	return cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l)),
	)
}
