// Package metrics считает сообщения чата по авторам и каналам, раз в интервал сохраняет снимок
// и строит по сохранённым снимкам ряды для графиков.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mmeshcher/crajybot/internal/model"
	"github.com/mmeshcher/crajybot/internal/timeutil"
)

// State - состояние сбора метрик.
type State string

const (
	StateStopped  State = "stopped"
	StateTracking State = "tracking"
)

const flushTimeout = 30 * time.Second

var defaultRetryDelays = []time.Duration{time.Second, 3 * time.Second, 5 * time.Second}

// Store - хранилище снимков.
type Store interface {
	InsertSnapshot(ctx context.Context, coll model.Collection, s model.Snapshot) error
	FindSnapshots(ctx context.Context, coll model.Collection, since time.Time, limit int) ([]model.Snapshot, error)
	CopySnapshots(ctx context.Context, from, to model.Collection) error
	DeleteSnapshots(ctx context.Context, coll model.Collection) error
}

// Options задаёт параметры агрегатора.
type Options struct {
	// Schedule - cron-выражение сброса счётчиков, по умолчанию "@hourly".
	Schedule string
	// Sandbox включает работу на копии боевых снимков, удаляемой при остановке.
	Sandbox bool
	// Location - часовой пояс меток на осях и границы суток.
	Location *time.Location
	// RetryDelays - паузы между повторными попытками записи снимка.
	RetryDelays []time.Duration
	Now         func() time.Time
}

// Status описывает текущее состояние агрегатора.
type Status struct {
	State         State      `json:"state"`
	LoadedAt      time.Time  `json:"loaded_at"`
	TrackingSince *time.Time `json:"tracking_since,omitempty"`
	LastFlush     *time.Time `json:"last_flush,omitempty"`
	Pending       int64      `json:"pending_messages"`
	Collection    string     `json:"collection"`
}

// Aggregator накапливает счётчики в памяти и периодически сохраняет их снимком.
type Aggregator struct {
	store  Store
	cron   *cron.Cron
	logger *zap.Logger
	opts   Options

	// lifecycle сериализует Start, Stop и Flush.
	lifecycle sync.Mutex

	mu            sync.Mutex
	state         State
	entry         cron.EntryID
	authors       map[string]int64
	channels      map[string]int64
	messages      int64
	loadedAt      time.Time
	trackingSince time.Time
	lastFlush     time.Time
}

// NewAggregator создаёт агрегатор в состоянии StateStopped.
func NewAggregator(store Store, c *cron.Cron, logger *zap.Logger, opts Options) *Aggregator {
	if opts.Schedule == "" {
		opts.Schedule = "@hourly"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RetryDelays == nil {
		opts.RetryDelays = defaultRetryDelays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Aggregator{
		store:    store,
		cron:     c,
		logger:   logger,
		opts:     opts,
		state:    StateStopped,
		authors:  map[string]int64{},
		channels: map[string]int64{},
		loadedAt: opts.Now(),
	}
}

func (a *Aggregator) collection() model.Collection {
	if a.opts.Sandbox {
		return model.CollectionSandbox
	}
	return model.CollectionLive
}

// Location возвращает часовой пояс агрегатора.
func (a *Aggregator) Location() *time.Location {
	return a.opts.Location
}

// RecordMessage учитывает одно сообщение. Сообщения ботов и сообщения вне сбора не учитываются.
func (a *Aggregator) RecordMessage(authorID, channelID string, isBot bool) bool {
	if isBot {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateTracking {
		return false
	}

	a.authors[authorID]++
	a.channels[channelID]++
	a.messages++
	return true
}

// Flush сохраняет накопленные счётчики одним снимком и обнуляет их.
// Пустые счётчики не сохраняются. Если запись не удалась после всех повторов,
// счётчики возвращаются в кэш и попадут в следующий снимок.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	return a.flush(ctx)
}

func (a *Aggregator) flush(ctx context.Context) error {
	now := a.opts.Now()

	a.mu.Lock()
	if len(a.authors) == 0 && len(a.channels) == 0 {
		a.messages = 0
		a.lastFlush = now
		a.mu.Unlock()
		return nil
	}

	snap := model.Snapshot{
		TakenAt:       now,
		AuthorCounts:  a.authors,
		ChannelCounts: a.channels,
	}
	messages := a.messages
	a.authors = map[string]int64{}
	a.channels = map[string]int64{}
	a.messages = 0
	a.mu.Unlock()

	if err := a.insertWithRetry(ctx, snap); err != nil {
		a.restore(snap, messages)
		return fmt.Errorf("flush metrics snapshot: %w", err)
	}

	a.mu.Lock()
	a.lastFlush = now
	a.mu.Unlock()

	a.logger.Debug("metrics snapshot stored",
		zap.Time("takenAt", now),
		zap.Int64("messages", messages),
		zap.Int("authors", len(snap.AuthorCounts)),
		zap.Int("channels", len(snap.ChannelCounts)),
	)
	return nil
}

func (a *Aggregator) insertWithRetry(ctx context.Context, snap model.Snapshot) error {
	err := a.store.InsertSnapshot(ctx, a.collection(), snap)
	for _, delay := range a.opts.RetryDelays {
		if err == nil {
			return nil
		}

		a.logger.Warn("store metrics snapshot error, retrying", zap.Error(err), zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		err = a.store.InsertSnapshot(ctx, a.collection(), snap)
	}
	return err
}

// restore возвращает несохранённые счётчики, добавляя к ним пришедшие за время записи.
func (a *Aggregator) restore(snap model.Snapshot, messages int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for k, v := range snap.AuthorCounts {
		a.authors[k] += v
	}
	for k, v := range snap.ChannelCounts {
		a.channels[k] += v
	}
	a.messages += messages
}

// Start включает сбор и ставит сброс на расписание. В режиме песочницы
// в неё сначала копируются боевые снимки.
func (a *Aggregator) Start(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	state := a.state
	a.mu.Unlock()

	if state == StateTracking {
		return fmt.Errorf("%w: already tracking", model.ErrMetricsState)
	}

	if a.opts.Sandbox {
		if err := a.store.CopySnapshots(ctx, model.CollectionLive, model.CollectionSandbox); err != nil {
			return fmt.Errorf("seed metrics sandbox: %w", err)
		}
	}

	id, err := a.cron.AddFunc(a.opts.Schedule, a.scheduledFlush)
	if err != nil {
		return fmt.Errorf("schedule metrics flush %q: %w", a.opts.Schedule, err)
	}

	a.mu.Lock()
	a.state = StateTracking
	a.entry = id
	a.trackingSince = a.opts.Now()
	a.mu.Unlock()

	a.logger.Info("metrics tracking started",
		zap.String("schedule", a.opts.Schedule),
		zap.String("collection", string(a.collection())),
	)
	return nil
}

func (a *Aggregator) scheduledFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := a.Flush(ctx); err != nil {
		a.logger.Error("scheduled metrics flush error", zap.Error(err))
	}
}

// Stop снимает сброс с расписания, сохраняет остаток счётчиков и, в режиме песочницы, удаляет её.
func (a *Aggregator) Stop(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	if a.state != StateTracking {
		a.mu.Unlock()
		return fmt.Errorf("%w: not tracking", model.ErrMetricsState)
	}
	a.cron.Remove(a.entry)
	a.entry = 0
	a.state = StateStopped
	a.trackingSince = time.Time{}
	a.mu.Unlock()

	if err := a.flush(ctx); err != nil {
		a.logger.Warn("final metrics flush error", zap.Error(err))
	}

	if a.opts.Sandbox {
		if err := a.store.DeleteSnapshots(ctx, model.CollectionSandbox); err != nil {
			return fmt.Errorf("purge metrics sandbox: %w", err)
		}
	}

	a.logger.Info("metrics tracking stopped")
	return nil
}

// Status возвращает состояние агрегатора.
func (a *Aggregator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{
		State:      a.state,
		LoadedAt:   a.loadedAt.In(a.opts.Location),
		Pending:    a.messages,
		Collection: string(a.collection()),
	}
	if !a.trackingSince.IsZero() {
		t := a.trackingSince.In(a.opts.Location)
		st.TrackingSince = &t
	}
	if !a.lastFlush.IsZero() {
		t := a.lastFlush.In(a.opts.Location)
		st.LastFlush = &t
	}
	return st
}

// Since возвращает начало запрошенного диапазона: now минус span или полночь текущих суток, если span не задан.
func (a *Aggregator) Since(now time.Time, span *timeutil.Span) time.Time {
	if span == nil {
		return timeutil.StartOfDay(now, a.opts.Location)
	}
	return now.Add(-span.Duration)
}

// QueryRange возвращает снимки с моментом не раньше since по возрастанию времени; limit > 0 ограничивает их число.
func (a *Aggregator) QueryRange(ctx context.Context, since time.Time, limit int) ([]model.Snapshot, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit %d", model.ErrInvalidQuery, limit)
	}

	snaps, err := a.store.FindSnapshots(ctx, a.collection(), since, limit)
	if err != nil {
		return nil, fmt.Errorf("find metrics snapshots: %w", err)
	}
	return snaps, nil
}
