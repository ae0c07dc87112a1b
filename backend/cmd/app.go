package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/adwski/blinddate/backend/calls"
	"github.com/adwski/blinddate/backend/config"
	"github.com/adwski/blinddate/backend/lobby"
	"github.com/adwski/blinddate/backend/match"
	"github.com/adwski/blinddate/backend/media"
	"github.com/adwski/blinddate/backend/registry"
	httpServer "github.com/adwski/blinddate/backend/server/http"
	websocketServer "github.com/adwski/blinddate/backend/server/websocket"
	"github.com/adwski/blinddate/backend/service"
	"github.com/adwski/blinddate/backend/storage"
	"github.com/adwski/blinddate/backend/storage/dynamo"
	"github.com/adwski/blinddate/backend/storage/memory"
	"github.com/adwski/blinddate/backend/storage/postgres"
	sw "github.com/adwski/blinddate/backend/switch"
	"github.com/rs/zerolog"
)

type store interface {
	match.Store
	calls.Store
	Ping(ctx context.Context) error
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	config.LoadEnvFiles()
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.Store).Msg("failed to open store")
	}
	defer closeStore()
	logger.Info().Str("store", cfg.Store).Msg("store ready")

	mediaCfg := media.Config{
		URL:       cfg.LiveKitURL,
		APIKey:    cfg.LiveKitAPIKey,
		APISecret: cfg.LiveKitAPISecret,
		TokenTTL:  cfg.LiveKitTokenTTL,
	}

	dispatcher := service.NewService(service.Config{
		Registry: registry.New(&logger),
		Lobby:    lobby.NewMatcher(&logger),
		Switch:   sw.NewSwitch(&logger),
		Logger:   &logger,
	})
	matches := match.NewService(match.Config{
		Store:       st,
		Broadcaster: dispatcher,
		Logger:      &logger,
	})
	callSvc := calls.NewService(calls.Config{
		Store:       st,
		Credentials: media.NewTokenIssuer(mediaCfg),
		Notifier:    dispatcher,
		Logger:      &logger,
	})

	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:          &logger,
		Matches:         matches,
		Calls:           callSvc,
		Store:           st,
		Media:           media.NewChecker(mediaCfg),
		ListenAddr:      cfg.APIListenAddr,
		CORSOrigins:     cfg.CORSOrigins,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:           &logger,
		SignalingService: dispatcher,
		ListenAddr:       cfg.WSListenAddr,
	})

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (store, func(), error) {
	switch cfg.Store {
	case storage.KindPostgres:
		pg, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case storage.KindDynamo:
		client, err := dynamo.NewClient(ctx, dynamo.Config{
			Region:   cfg.DynamoRegion,
			Endpoint: cfg.DynamoURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return dynamo.NewStore(client, cfg.DynamoPrefix), func() {}, nil
	case storage.KindMemory:
		return memory.NewMemStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unsupported store %q", cfg.Store)
}
