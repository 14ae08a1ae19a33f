// Package main запускает командный шлюз бота: экономику, планировщик кредитов и метрики чата.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/crajybot/internal/config"
	"github.com/mmeshcher/crajybot/internal/cooldown"
	"github.com/mmeshcher/crajybot/internal/handler"
	"github.com/mmeshcher/crajybot/internal/ledger"
	"github.com/mmeshcher/crajybot/internal/loan"
	"github.com/mmeshcher/crajybot/internal/members"
	"github.com/mmeshcher/crajybot/internal/metrics"
	"github.com/mmeshcher/crajybot/internal/middleware"
	"github.com/mmeshcher/crajybot/internal/model"
	"github.com/mmeshcher/crajybot/internal/notify"
	"github.com/mmeshcher/crajybot/internal/repository"
	"github.com/mmeshcher/crajybot/internal/schedule"
)

// store объединяет всё, что нужно от хранилища движку, планировщику и метрикам.
type store interface {
	ledger.Repository
	loan.Repository
	metrics.Store
	Close() error
}

// publisher доставляет личные сообщения и выдаёт роли через шлюз чата.
type publisher interface {
	DirectMessage(ctx context.Context, userID int64, n model.Notice) error
	GrantRole(ctx context.Context, userID int64, role string) error
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	loc, err := cfg.Location()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := openStore(cfg, sugar)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	cooldowns, closeCooldowns, err := openCooldowns(cfg, sugar)
	if err != nil {
		sugar.Fatalw("cooldown store initialization error", "error", err.Error())
	}
	defer closeCooldowns()

	pub, closePub, err := openPublisher(cfg, logger)
	if err != nil {
		sugar.Fatalw("notification broker initialization error", "error", err.Error())
	}
	defer closePub()

	var resolver *members.Resolver
	if cfg.GatewayAddress != "" {
		resolver = members.NewResolver(members.NewClient(cfg.GatewayAddress))
	} else {
		resolver = members.NewResolver(nil)
	}

	opts := ledger.DefaultOptions()
	opts.CapLossesAtCash = cfg.CapLossesAtCash
	opts.LoanReminderDelay = cfg.LoanReminderDelay
	opts.LoanDefaultDelay = cfg.LoanDefaultDelay
	economy := ledger.NewService(repo, cooldowns, pub, logger.Named("ledger"), opts)

	scheduler := schedule.New(loc, logger)

	loans := loan.NewScheduler(repo, pub, scheduler, logger.Named("loan"), loan.Options{
		Schedule:        cfg.LoanSweepSchedule,
		CapLossesAtCash: cfg.CapLossesAtCash,
	})

	agg := metrics.NewAggregator(repo, scheduler, logger.Named("metrics"), metrics.Options{
		Schedule: cfg.MetricsFlushSchedule,
		Sandbox:  cfg.MetricsSandbox,
		Location: loc,
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(economy, agg, resolver, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if err := loans.Start(ctx); err != nil {
		sugar.Fatalw("loan scheduler error", "error", err)
	}

	// Просроченные за время простоя кредиты обрабатываются сразу, не дожидаясь первого тика.
	g.Go(func() error {
		loans.Sweep(ctx, time.Now())
		return nil
	})

	scheduler.Start()

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting crajybot server", "addr", cfg.RunAddress, "timezone", loc.String())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		<-scheduler.Stop().Done()

		if err := agg.Flush(shutdownCtx); err != nil {
			sugar.Warnw("final metrics flush error", "error", err)
		}

		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func openStore(cfg *config.Config, sugar *zap.SugaredLogger) (store, error) {
	if cfg.DatabaseURI == "" {
		sugar.Warn("DATABASE_URI is empty, balances live in memory only")
		repo := repository.NewMemoryRepository()
		// Тот же товар, что кладёт первая миграция.
		err := repo.UpsertShopItem(context.Background(), model.ShopItem{Name: "heist tools", Price: 500})
		if err != nil {
			return nil, fmt.Errorf("seed shop: %w", err)
		}
		return repo, nil
	}
	return repository.NewPostgresRepository(cfg.DatabaseURI)
}

func openCooldowns(cfg *config.Config, sugar *zap.SugaredLogger) (cooldown.Store, func(), error) {
	if cfg.RedisURL == "" {
		sugar.Info("REDIS_URL is empty, cooldowns are process-local")
		return cooldown.NewMemoryStore(), func() {}, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	return cooldown.NewRedisStore(client, ""), func() { _ = client.Close() }, nil
}

func openPublisher(cfg *config.Config, logger *zap.Logger) (publisher, func(), error) {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP_URL is empty, notifications are only logged")
		return notify.NewLogPublisher(logger), func() {}, nil
	}

	p, err := notify.NewAMQPPublisher(cfg.AMQPURL, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { _ = p.Close() }, nil
}
