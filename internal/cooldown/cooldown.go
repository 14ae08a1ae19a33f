// Package cooldown ограничивает частоту команд: не более одного успешного вызова за окно на пользователя.
package cooldown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mmeshcher/crajybot/internal/model"
)

// Store атомарно занимает и освобождает окно команды для пользователя.
type Store interface {
	// Acquire занимает окно или возвращает *model.CooldownError с оставшимся временем.
	Acquire(ctx context.Context, command string, userID int64, window time.Duration) error
	// Release возвращает окно, если защищённая операция ничего не сделала.
	Release(ctx context.Context, command string, userID int64) error
}

func key(command string, userID int64) string {
	return fmt.Sprintf("%s:%d", command, userID)
}

// MemoryStore хранит окна в памяти процесса.
type MemoryStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore создаёт MemoryStore с системными часами.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock создаёт MemoryStore с заданными часами.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		expires: map[string]time.Time{},
		now:     now,
	}
}

func (s *MemoryStore) Acquire(ctx context.Context, command string, userID int64, window time.Duration) error {
	if window <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(command, userID)
	now := s.now()

	if until, ok := s.expires[k]; ok && now.Before(until) {
		return &model.CooldownError{Command: command, Remaining: until.Sub(now)}
	}

	s.expires[k] = now.Add(window)
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, command string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.expires, key(command, userID))
	return nil
}
