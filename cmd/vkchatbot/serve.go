package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/vkchatbot/vkchatbot/internal/bot"
	"github.com/vkchatbot/vkchatbot/internal/chat"
	"github.com/vkchatbot/vkchatbot/internal/config"
	"github.com/vkchatbot/vkchatbot/internal/db"
	"github.com/vkchatbot/vkchatbot/internal/handlers"
	"github.com/vkchatbot/vkchatbot/internal/image"
	"github.com/vkchatbot/vkchatbot/internal/logger"
	"github.com/vkchatbot/vkchatbot/internal/maintenance"
	"github.com/vkchatbot/vkchatbot/internal/message"
	"github.com/vkchatbot/vkchatbot/internal/server"
	"github.com/vkchatbot/vkchatbot/internal/settings"
	"github.com/vkchatbot/vkchatbot/internal/users"
	"github.com/vkchatbot/vkchatbot/internal/vk"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideVKClient,
			provideLongPoller,
			provideMessageStore,
			provideMessageService,
			provideSettingsStore,
			provideUsersService,
			provideChatClient,
			provideImageClient,
			provideBot,
			provideRetention,
			providePingHandler,
			provideStatusHandler,
			provideHistoryHandler,
			provideServer,
		),
		fx.Invoke(
			startLongPoller,
			startIngestion,
			startBot,
			startRetention,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideVKClient(log *slog.Logger, cfg config.Config) *vk.Client {
	return vk.NewClient(log, cfg.VK)
}

func provideLongPoller(log *slog.Logger, client *vk.Client, cfg config.Config) *vk.LongPoller {
	return vk.NewLongPoller(log, client, cfg.VK.GroupID)
}

func provideMessageStore(log *slog.Logger, conn *pgxpool.Pool) *message.Store {
	return message.NewStore(log, conn)
}

func provideMessageService(log *slog.Logger, store *message.Store, client *vk.Client) *message.Service {
	return message.NewService(log, message.NewBuffer(log), store, client)
}

func provideSettingsStore(log *slog.Logger, conn *pgxpool.Pool) *settings.Store {
	return settings.NewStore(log, conn)
}

func provideUsersService(log *slog.Logger, client *vk.Client) *users.Service {
	return users.NewService(log, client)
}

func provideChatClient(log *slog.Logger, cfg config.Config) *chat.Client {
	return chat.NewClient(log, cfg.OpenAI)
}

func provideImageClient(log *slog.Logger, cfg config.Config) *image.Client {
	return image.NewClient(log, cfg.OpenAI)
}

func provideBot(log *slog.Logger, svc *message.Service, settingsStore *settings.Store, usersService *users.Service, chatClient *chat.Client, imageClient *image.Client, cfg config.Config) *bot.Bot {
	return bot.New(log, svc, settingsStore, usersService, chatClient, imageClient, cfg.Bot)
}

func provideRetention(log *slog.Logger, store *message.Store, cfg config.Config) *maintenance.Retention {
	return maintenance.NewRetention(log, store, cfg.Maintenance)
}

func providePingHandler(log *slog.Logger) *handlers.PingHandler {
	return handlers.NewPingHandler(log)
}

func provideStatusHandler(log *slog.Logger, svc *message.Service) *handlers.StatusHandler {
	return handlers.NewStatusHandler(log, svc)
}

func provideHistoryHandler(log *slog.Logger, svc *message.Service) *handlers.HistoryHandler {
	return handlers.NewHistoryHandler(log, svc)
}

func provideServer(log *slog.Logger, cfg config.Config, pingHandler *handlers.PingHandler, statusHandler *handlers.StatusHandler, historyHandler *handlers.HistoryHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, pingHandler, statusHandler, historyHandler)
}

func startLongPoller(lc fx.Lifecycle, logger *slog.Logger, poller *vk.LongPoller, shutdowner fx.Shutdowner) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("long polling stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error { cancel(); return nil },
	})
}

func startIngestion(lc fx.Lifecycle, svc *message.Service, poller *vk.LongPoller) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go svc.Consume(ctx, poller.Events())
			return nil
		},
		OnStop: func(_ context.Context) error { cancel(); return nil },
	})
}

func startBot(lc fx.Lifecycle, responder *bot.Bot) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go responder.Run(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error { cancel(); return nil },
	})
}

func startRetention(lc fx.Lifecycle, retention *maintenance.Retention) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return retention.Start() },
		OnStop:  func(_ context.Context) error { retention.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
