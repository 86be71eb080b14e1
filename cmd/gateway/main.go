package main

import (
	"chat-core/auth"
	"chat-core/contract"
	"chat-core/infrastructure/broker"
	"chat-core/infrastructure/grpc/server"
	"chat-core/infrastructure/storage"
	"chat-core/internal"
	"chat-core/observability"
	"chat-core/runtime"
	"chat-core/runtime/workers"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"google.golang.org/grpc"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Gateway terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a server failure.
// Deferred cleanups run before main calls os.Exit.
func run() (int, error) {
	// 1. Configuration & Logger
	config, err := internal.LoadConfig()
	if err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	accounts, err := auth.ParseServiceAccounts(config.ServiceAccounts)
	if err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	logger := logs.GetLoggerFromString(config.LogLevel).With("instance_id", config.InstanceID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()
	store := storage.NewMessageRepository(db, logger)

	// 3. Membership notifications from the CRUD surface.
	// The store above is locked to this process, so one gateway serves every connection.
	var broadcaster contract.IBroadcaster
	if config.BroadcastsEnabled() {
		natsBroker, err := broker.Connect(logger, config.NatsURL, config.InstanceID)
		if err != nil {
			return exitRuntime, err
		}
		defer func() {
			logger.Info("Draining NATS...")
			_ = natsBroker.Close()
		}()
		broadcaster = natsBroker
	} else {
		logger.Info("NATS_URL not set, membership changes come from the admin API only")
		broadcaster = broker.NewLocalHub().Instance(config.InstanceID)
	}

	// 4. Messaging core
	registry := observability.NewRegistry()
	metrics := observability.NewMetrics(registry)
	scheduler := runtime.NewScheduler()
	defer scheduler.Stop()
	presence := runtime.NewPresenceTracker(logger, scheduler, config.PresenceGraceWindow)
	sessions := runtime.NewSessionStore(presence)
	participants, err := runtime.NewParticipantsCache(store, config.ParticipantsCacheSize)
	if err != nil {
		return exitRuntime, fmt.Errorf("participants cache: %w", err)
	}
	defer participants.Close()

	verifier := auth.Verifiers{
		auth.NewJWTVerifier([]byte(config.JWTSecret), config.JWTIssuer),
		auth.NewServiceAccountVerifier(accounts),
	}
	router := runtime.NewRouter(logger, store, store, sessions, nil, participants, metrics, runtime.RouterConfig{
		PushTimeout:     config.PushTimeout,
		HistoryMaxLimit: config.HistoryMaxLimit,
		AckQueueSize:    config.AckQueueSize,
	})
	gateway := runtime.NewGateway(logger, verifier, sessions, router, scheduler, metrics, runtime.GatewayConfig{
		HeartbeatTimeout:          config.HeartbeatTimeout,
		PushTimeout:               config.PushTimeout,
		BufferSize:                config.ConnectionBufferSize,
		MaxConnectionsPerIdentity: config.MaxConnectionsPerIdentity,
	})
	// The router pushes through the gateway, which itself routes inbound sends.
	router.SetPusher(gateway)

	// 5. Supervised workers
	supervisor := workers.NewSupervisor(logger, config.RestartInterval)
	for range config.AckWorkers {
		supervisor.Add(workers.NewAckWorker(logger, store, router.AckQueue(), metrics, config.StoreTimeout))
	}
	supervisor.Add(
		workers.NewPresenceNotifier(logger, presence, router, sessions, gateway, metrics, config.PushTimeout),
		workers.NewBroadcastListener(logger, broadcaster, router),
		workers.NewChannelCapacityWorker(logger, []workers.NamedChannel{
			{Name: "acks", Channel: router.AckQueue()},
		}, metrics, config.MetricInterval),
	)
	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		supervisor.Run(ctx)
	}()

	// 6. Admin surface
	monitoring := observability.NewMonitoringManager(config.InstanceID, sessions, config.BroadcastsEnabled())
	internal.NewDebugServer(logger, store, store, broadcaster, registry, func() any {
		return monitoring.Snapshot()
	}).Start(ctx, config.DebugPort)

	// 7. gRPC Server
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s := server.NewGRPCServer(logger, verifier, server.NewGatewayServer(logger, gateway, router, config.MaxPayloadBytes))

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting gRPC server", "address", address, "at", time.Now().UTC())
		for serviceName := range s.GetServiceInfo() {
			logger.Debug("gRPC exposed services", "name", serviceName)
		}
		if err := s.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		stop()
		<-supervisorDone
		return exitRuntime, err
	}

	// 9. Graceful shutdown: live streams end first so every connection unregisters.
	logger.Info("Shutting down gracefully...")
	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(config.HeartbeatTimeout):
		logger.Warn("Streams still open, forcing stop")
		s.Stop()
	}
	supervisor.Stop()
	<-supervisorDone
	logger.Info("Program stopped cleanly")
	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG)
	} else {
		options = options.WithLoggingLevel(badger.WARNING)
	}
	return options
}
