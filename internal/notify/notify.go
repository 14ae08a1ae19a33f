// Package notify доставляет личные сообщения и выдачу ролей шлюзу чата.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/crajybot/internal/model"
)

const (
	// Exchange - topic-exchange, который слушает шлюз чата.
	Exchange = "crajybot.events"

	RoutingDirectMessage = "user.dm"
	RoutingGrantRole     = "user.role"
)

// Event - сообщение для шлюза чата.
type Event struct {
	ID         string        `json:"event_id"`
	Type       string        `json:"type"`
	UserID     int64         `json:"user_id"`
	Notice     *model.Notice `json:"notice,omitempty"`
	Role       string        `json:"role,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

func newEvent(kind string, userID int64) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       kind,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}
}

// DirectMessageEvent формирует событие личного сообщения.
func DirectMessageEvent(userID int64, n model.Notice) Event {
	e := newEvent(RoutingDirectMessage, userID)
	e.Notice = &n
	return e
}

// GrantRoleEvent формирует событие выдачи роли.
func GrantRoleEvent(userID int64, role string) Event {
	e := newEvent(RoutingGrantRole, userID)
	e.Role = role
	return e
}

// LogPublisher только пишет события в лог. Используется, когда брокер не настроен.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher создаёт LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// DirectMessage пишет уведомление пользователю в лог.
func (p *LogPublisher) DirectMessage(ctx context.Context, userID int64, n model.Notice) error {
	e := DirectMessageEvent(userID, n)
	p.logger.Info("direct message",
		zap.String("eventID", e.ID),
		zap.Int64("userID", userID),
		zap.String("title", n.Title),
		zap.String("description", n.Description),
		zap.String("severity", string(n.Severity)),
	)
	return nil
}

// GrantRole пишет выдачу роли в лог.
func (p *LogPublisher) GrantRole(ctx context.Context, userID int64, role string) error {
	e := GrantRoleEvent(userID, role)
	p.logger.Info("grant role",
		zap.String("eventID", e.ID),
		zap.Int64("userID", userID),
		zap.String("role", role),
	)
	return nil
}
