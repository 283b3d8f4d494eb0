package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/relay/internal/adapter/llm"
	"github.com/xiaot623/gogo/relay/internal/bots"
	"github.com/xiaot623/gogo/relay/internal/chatlog"
	"github.com/xiaot623/gogo/relay/internal/config"
	"github.com/xiaot623/gogo/relay/internal/hub"
	internalhttp "github.com/xiaot623/gogo/relay/internal/http"
	"github.com/xiaot623/gogo/relay/internal/logger"
	"github.com/xiaot623/gogo/relay/internal/metrics"
	"github.com/xiaot623/gogo/relay/internal/notify"
	"github.com/xiaot623/gogo/relay/internal/orchestrator"
	"github.com/xiaot623/gogo/relay/internal/policy"
	"github.com/xiaot623/gogo/relay/internal/presence"
	store "github.com/xiaot623/gogo/relay/internal/repository"
	"github.com/xiaot623/gogo/relay/internal/service"
	"github.com/xiaot623/gogo/relay/internal/session"
	"github.com/xiaot623/gogo/relay/internal/tools"
	"github.com/xiaot623/gogo/relay/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting relay",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("internal_port", cfg.InternalPort),
		zap.String("bots_path", cfg.BotsPath),
		zap.String("llm_backend", cfg.LLMBackend))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Bots are validated up front; a bad definition stops startup.
	defs, err := bots.LoadPath(cfg.BotsPath)
	if err != nil {
		return err
	}
	registry := bots.NewRegistry(tools.DefaultRegistry)
	if err := registry.Load(defs); err != nil {
		return err
	}
	log.Info("bots loaded", zap.Int("count", len(defs)))

	// Initialize policy engine
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	// Initialize LLM client
	llmClient, err := llm.NewLLMClient(llm.Options{
		Backend:      cfg.LLMBackend,
		BaseURL:      cfg.LLMBaseURL,
		APIKey:       cfg.LLMAPIKey,
		DefaultModel: cfg.LLMModel,
		Timeout:      cfg.LLMTimeout,
		MockDelay:    cfg.MockDelay,
	}, log.Named("llm"))
	if err != nil {
		return err
	}

	// Notification outbox
	sinks := notify.Multi{notify.NewLogSink(log.Named("notify"))}
	var outbox *store.SQLiteStore
	if cfg.NotifyDatabaseURL != "" {
		outbox, err = store.NewSQLiteStore(cfg.NotifyDatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to initialize notification store: %w", err)
		}
		defer outbox.Close()
		sinks = append(sinks, outbox)
	}
	dispatcher := notify.NewDispatcher(sinks, cfg.NotifyQueueSize, log.Named("notify"), m)

	// Chat state
	eventHub := hub.NewHub(cfg.SubscriberBuffer, log.Named("hub"), m)
	svc := service.New(service.Deps{
		Log:              chatlog.New(cfg.HistoryCapacity),
		Presence:         presence.NewRegistry(),
		Hub:              eventHub,
		Bots:             registry,
		Policy:           policyEngine,
		Notifier:         dispatcher,
		Models:           llmClient,
		Logger:           log.Named("service"),
		MaxMessageLength: cfg.MaxMessageLength,
	})

	orch := orchestrator.New(orchestrator.Config{
		MaxExchanges:         cfg.MaxBotExchanges,
		ContextSize:          cfg.BotContextSize,
		InterjectionDelayMin: cfg.InterjectionDelayMin,
		InterjectionDelayMax: cfg.InterjectionDelayMax,
		InterjectionCooldown: cfg.InterjectionCooldown,
		MaxInterjections:     cfg.MaxInterjections,
		QueueSize:            cfg.BotQueueSize,
		DefaultModel:         cfg.LLMModel,
	}, svc, registry, tools.DefaultRegistry, llmClient, log.Named("orchestrator"), m)
	svc.SetReplier(orch)

	// Streams
	sessions := session.NewManager(session.Config{
		KeepAliveInterval:   cfg.KeepAliveInterval,
		ReconnectGrace:      cfg.ReconnectGrace,
		ReconnectMinSpacing: cfg.ReconnectMinSpacing,
	}, svc, log.Named("session"), m)

	g, gctx := errgroup.WithContext(ctx)

	wsServer := ws.NewServer(gctx, ws.Config{
		WriteTimeout:   cfg.WriteTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
	}, svc, sessions, log.Named("ws"))

	publicServer := internalhttp.NewPublicServer(
		internalhttp.NewHandler(gctx, svc, sessions, log.Named("http")), wsServer)

	var ob internalhttp.Outbox
	if outbox != nil {
		ob = outbox
	}
	internalServer := internalhttp.NewInternalServer(
		internalhttp.NewInternalHandler(ob, sessions, eventHub, reg))

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := publicServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("public server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.InternalPort)
		if err := internalServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("internal server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		orch.Run(gctx)
		return nil
	})
	g.Go(func() error {
		// Delivery outlives gctx so queued notifications drain on shutdown.
		dispatcher.Run(context.Background())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down relay")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := publicServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("failed to shutdown public server gracefully", zap.Error(err))
		}
		if err := internalServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("failed to shutdown internal server gracefully", zap.Error(err))
		}
		orch.Wait()
		sessions.Close()
		dispatcher.Close()
		return nil
	})

	log.Info("relay started")
	err = g.Wait()
	log.Info("relay stopped")
	return err
}
