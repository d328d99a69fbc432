package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"marketplace-chat/internal/auth"
	"marketplace-chat/internal/chat"
	"marketplace-chat/internal/notify"
	"marketplace-chat/internal/presence"
	"marketplace-chat/internal/server"
	"marketplace-chat/internal/storage"
	"marketplace-chat/internal/users"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// chatStore is what the chat service and the user directory need from a store
type chatStore interface {
	chat.Store
	users.Source
}

func newLogger() (*zap.Logger, error) {
	if dev, _ := strconv.ParseBool(os.Getenv("LOG_DEVELOPMENT")); dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("godotenv.Load: %v", err)
	}

	logger, err := newLogger()
	if err != nil {
		log.Fatalf("zap logger: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	var (
		serverCfg  server.EnvConfig
		storageCfg storage.Config
		chatCfg    chat.Config
		authCfg    auth.Config
		usersCfg   users.Config
		notifyCfg  notify.Config
	)
	for _, cfg := range []interface{}{&serverCfg, &storageCfg, &chatCfg, &authCfg, &usersCfg, &notifyCfg} {
		if err := env.Parse(cfg); err != nil {
			sugar.Fatalf("Cannot parse env config: %v", err)
		}
	}

	serverOpts := []server.Option{
		server.WithEnvConfig(serverCfg),
		server.TimeoutHandler(serverCfg.RequestTimeout, "Request timed out"),
	}

	var store chatStore
	switch storageCfg.Driver {
	case "memory":
		sugar.Warn("Using in-memory store, messages are lost on restart")
		store = storage.NewMemoryStore()
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pg, err := storage.New(ctx, sugar, storageCfg, storage.ConnectionTimeout(30*time.Second))
		if err == nil {
			err = pg.Migrate(ctx)
		}
		cancel()
		if err != nil {
			sugar.Fatalf("Cannot create Store instance: %v", err)
		}
		store = pg
		serverOpts = append(serverOpts, server.RegisterAfterShutdown(pg.Close))
	default:
		sugar.Fatalf("Unknown store driver %q", storageCfg.Driver)
	}

	chatOpts := []chat.Option{chat.WithConfig(chatCfg)}

	if rdb := users.NewClient(usersCfg); rdb != nil {
		chatOpts = append(chatOpts, chat.WithDirectory(users.NewDirectory(sugar, store, rdb, usersCfg.TTL)))
		serverOpts = append(serverOpts, server.RegisterAfterShutdown(func() {
			if err := rdb.Close(); err != nil {
				sugar.Errorf("redis close: %v", err)
			}
		}))
	} else {
		chatOpts = append(chatOpts, chat.WithDirectory(users.NewDirectory(sugar, store, nil, usersCfg.TTL)))
	}

	if notifyCfg.URL != "" {
		publisher, err := notify.Dial(sugar, notifyCfg)
		if err != nil {
			sugar.Fatalf("Cannot connect to AMQP broker: %v", err)
		}
		chatOpts = append(chatOpts, chat.WithNotifier(publisher))
		serverOpts = append(serverOpts, server.RegisterAfterShutdown(func() {
			if err := publisher.Close(); err != nil {
				sugar.Errorf("publisher close: %v", err)
			}
		}))
	} else {
		sugar.Info("AMQP_URL is not set, offline notifications are disabled")
	}

	registry := presence.NewRegistry()
	svc := chat.NewService(sugar, store, registry, chatOpts...)

	srv, err := server.NewServer(sugar, svc, registry, auth.NewAuthenticator(authCfg), serverOpts...)
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}
