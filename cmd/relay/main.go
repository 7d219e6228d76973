package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HMasataka/relay/internal/config"
	"github.com/HMasataka/relay/internal/eventbus"
	"github.com/HMasataka/relay/internal/httpapi"
	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/internal/store"
	"github.com/HMasataka/relay/internal/upstream"
	"github.com/HMasataka/relay/internal/worker"
	"github.com/HMasataka/relay/pkg/realtime"
	"github.com/HMasataka/relay/pkg/transport/protocol"
	"github.com/HMasataka/relay/pkg/transport/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(config.LoadOptions{Path: *configPath})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("relay exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	st, bus, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	defer bus.Close()

	pool := worker.NewPool(cfg.Hub.Workers, cfg.Hub.QueueSize, logger)
	pool.Start(ctx)
	defer pool.Stop()

	httpClient := upstream.NewHTTPClient(cfg.Upstream)
	presence := realtime.NewPresence(st, pool, cfg.Hub.StoreTimeout, logger)

	hub := realtime.NewHub(
		realtime.WithHubLogger(logger),
		realtime.WithPresence(presence),
		realtime.WithDefaultRoom(cfg.Hub.DefaultRoom),
		realtime.WithHeartbeatInterval(cfg.Hub.HeartbeatInterval),
		realtime.WithSendTimeout(cfg.Hub.SendTimeout),
	)
	if err := hub.Start(ctx); err != nil {
		return err
	}
	defer hub.Stop()

	registry := protocol.NewHandlerRegistry()
	realtime.NewHandlers(realtime.HandlersOptions{
		Hub:      hub,
		Store:    st,
		Tasks:    pool,
		AI:       upstream.NewAIClient(httpClient, cfg.Upstream, logger),
		Orders:   upstream.NewOrderClient(httpClient, cfg.Upstream, logger),
		Presence: presence,
		Logger:   logger,
		Config: realtime.HandlerConfig{
			DefaultRoom:      cfg.Hub.DefaultRoom,
			StoreTimeout:     cfg.Hub.StoreTimeout,
			ChatHistoryLimit: cfg.Hub.ChatHistoryLimit,
			ChatHistoryTTL:   cfg.Hub.ChatHistoryTTL,
			CartTTL:          cfg.Hub.CartTTL,
			AIStatsTTL:       cfg.Hub.AIStatsTTL,
		},
	}).Register(registry)

	dispatcher := realtime.NewDispatcher(realtime.DispatcherOptions{
		Hub:             hub,
		Handlers:        registry,
		Activity:        upstream.NewActivityClient(httpClient, cfg.Upstream, logger),
		Tasks:           pool,
		Logger:          logger,
		ActivityTimeout: cfg.Upstream.ReadTimeout,
	})

	subscriber := realtime.NewSubscriber(hub, bus, cfg.Redis.Channel, logger)
	if err := subscriber.Start(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.Redis.Channel, err)
	}
	defer subscriber.Stop()

	clientOptions := websocket.DefaultClientOptions()
	clientOptions.SendBufferSize = cfg.Hub.SendBufferSize
	clientOptions.MaxMessageSize = cfg.Hub.MaxMessageSize

	wsServer := websocket.NewServer(
		websocket.WithHub(hub),
		websocket.WithLogger(logger),
		websocket.WithDispatcher(dispatcher),
		websocket.WithClientOptions(clientOptions),
		websocket.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	)

	server := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: httpapi.NewRouter(httpapi.Options{
			Hub:       hub,
			Publisher: realtime.NewPublisher(bus, cfg.Redis.Channel, logger),
			Store:     st,
			Presence:  presence,
			WebSocket: wsServer,
			Logger:    logger,
			RateLimit: cfg.Server.ControlRateLimit,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	// Websocket connections are hijacked, so Shutdown does not wait for
	// them; stopping the hub closes them.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	return nil
}

// openBackends connects the shared store and bus. An empty redis address
// runs a single instance on in-memory backends.
func openBackends(ctx context.Context, cfg *config.Config, logger *logging.Logger) (store.Store, eventbus.Bus, error) {
	if cfg.Redis.Addr == "" {
		logger.Warn("redis disabled, using in-memory store and bus")
		return store.NewMemoryStore(), eventbus.NewInMemoryBus(cfg.Hub.QueueSize), nil
	}

	client, err := store.Connect(ctx, cfg.Redis, 30*time.Second, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	return store.NewRedisStore(client), eventbus.NewRedisBus(client, logger), nil
}
