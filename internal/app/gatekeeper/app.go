// Package gatekeeper собирает все компоненты гейткипера в одно приложение:
// журнал, контроллер доступа, бот, плановые проверки, потребитель событий
// оплаты и HTTP-сервер вебхуков.
package gatekeeper

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/channel-gatekeeper/internal/access"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/bot"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/cache"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/config"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/migrations"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/notify"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/services/events"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/services/sweeper"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/storage/repository"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/telegram"
)

// App собранное приложение гейткипера.
type App struct {
	server    *http.Server
	logger    *slog.Logger
	db        *repository.Storage
	amqpConn  *amqp.Connection
	amqpCh    *amqp.Channel
	queueName string
	events    *events.Service
	sweeper   *sweeper.Service
	bot       *bot.Bot
}

// New инициализирует все компоненты и их зависимости.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, "./migrations"); err != nil {
		return nil, err
	}

	markerStore, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	amqpConn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}
	queues := rabbitmq.GetPaymentQueues()
	amqpCh, err := rabbitmq.SetupChannel(amqpConn, queues)
	if err != nil {
		return nil, err
	}

	tg := telegram.NewClient(cfg.APIEndpoint, cfg.Token)
	dispatcher := notify.New(tg, markerStore, logger)
	accessCtrl := access.New(tg, dispatcher, logger,
		cfg.ChannelID, cfg.InviteTTL, cfg.SettleDelay, cfg.DirectoryTimeout)
	eventsSvc := events.New(db, accessCtrl, dispatcher, logger, cfg.TrialDays)
	sweeperSvc, err := sweeper.New(db, accessCtrl, dispatcher, logger, cfg.Interval, cfg.DailyAt)
	if err != nil {
		return nil, err
	}
	tgBot := bot.New(tg, eventsSvc, db, cfg, logger)

	router := chi.NewRouter()
	publisher := &rabbitmq.ChannelPublisher{Ch: amqpCh}
	RegisterRoutes(router, logger, publisher, cfg.Secret)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:    srv,
		logger:    logger,
		db:        db,
		amqpConn:  amqpConn,
		amqpCh:    amqpCh,
		queueName: queues[0].QueueName,
		events:    eventsSvc,
		sweeper:   sweeperSvc,
		bot:       tgBot,
	}, nil
}

// Run запускает все компоненты и блокируется до отмены контекста или
// фатальной ошибки HTTP-сервера.
func (a *App) Run(ctx context.Context) error {
	if err := rabbitmq.ConsumeMessages(ctx, a.amqpCh, a.queueName, a.events.HandlePaymentMessage); err != nil {
		return err
	}

	// Разовая проверка на старте подбирает пользователей, истекших или
	// потерявших отзыв во время простоя процесса.
	a.sweeper.Sweep(ctx, sweeper.KindStartup)

	go a.sweeper.RunInterval(ctx)
	go a.sweeper.RunDaily(ctx)
	go a.bot.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down gracefully")
		err := a.server.Shutdown(timeoutCtx)
		_ = a.amqpCh.Close()
		_ = a.amqpConn.Close()
		_ = a.db.DB.Close()
		return err
	}
}
