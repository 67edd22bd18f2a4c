package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aurelia-ai/multichat/internal/assembler"
	"github.com/aurelia-ai/multichat/internal/availability"
	"github.com/aurelia-ai/multichat/internal/config"
	"github.com/aurelia-ai/multichat/internal/handler"
	"github.com/aurelia-ai/multichat/internal/ledger"
	"github.com/aurelia-ai/multichat/internal/middleware"
	natsclient "github.com/aurelia-ai/multichat/internal/nats"
	"github.com/aurelia-ai/multichat/internal/orchestrator"
	"github.com/aurelia-ai/multichat/internal/provider"
	"github.com/aurelia-ai/multichat/internal/registry"
	"github.com/aurelia-ai/multichat/internal/store"
	"github.com/aurelia-ai/multichat/pkg/logger"
	"github.com/aurelia-ai/multichat/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	log.Info("starting multichat api",
		zap.String("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "multichat-api", cfg.OTLPEndpoint)
		if err != nil {
			log.Fatal("failed to init tracing", zap.Error(err))
		}
		defer tracing.Shutdown(context.Background(), tp)
	}

	st, err := store.Open(store.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
	})
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}

	reg := registry.New(registry.DefaultModels(), registry.DefaultTiers())
	providers := buildProviders(cfg, log)

	cache := availability.New(cfg.AvailabilityTTL, buildSyncFunc(reg, providers), nil)
	if err := cache.Refresh(ctx); err != nil {
		log.Warn("initial availability sync failed", zap.Error(err))
	}

	// NATS is the boundary to the billing collaborator and the usage
	// audit stream. The core runs without it; grants just stop flowing.
	var natsConn *natsclient.Client
	var ledgerPub ledger.Publisher
	var orchPub orchestrator.Publisher
	if cfg.NATSURL != "" {
		natsConn, err = natsclient.Connect(natsclient.Config{
			URL:      cfg.NATSURL,
			Token:    cfg.NATSToken,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsConn.Close()

		pub := natsclient.NewUsagePublisher(natsConn)
		if err := pub.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure usage stream", zap.Error(err))
		}
		ledgerPub = pub
		orchPub = pub
	} else {
		log.Warn("NATS_URL not set; billing grants and usage audit disabled")
	}

	led := ledger.New(st, ledgerPub, log, nil)

	var billing *natsclient.BillingConsumer
	if natsConn != nil {
		billing, err = natsclient.StartBillingConsumer(ctx, natsConn, led, reg)
		if err != nil {
			log.Fatal("failed to start billing consumer", zap.Error(err))
		}
		defer billing.Stop()
	}

	orch := orchestrator.New(reg, cache, led, st, providers, orchPub,
		assembler.DefaultConfig(), cfg.UtilityModel, log, nil)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.AvailabilitySync, func() {
		syncCtx, syncCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer syncCancel()
		if err := cache.Refresh(syncCtx); err != nil {
			log.Warn("availability sync failed", zap.Error(err))
		}
	}); err != nil {
		log.Fatal("failed to schedule availability sync", zap.Error(err))
	}
	if _, err := scheduler.AddFunc("5 0 * * *", func() {
		rollupCtx, rollupCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer rollupCancel()
		day := ledger.Day(time.Now().AddDate(0, 0, -1))
		agg, err := st.DailyRollup(rollupCtx, day)
		if err != nil {
			log.Warn("daily rollup failed", zap.Error(err))
			return
		}
		log.Info("daily usage rollup",
			zap.String("day", day),
			zap.Int64("requests", agg.Requests),
			zap.Int64("chars", agg.Chars),
			zap.Int64("users", agg.Users))
	}); err != nil {
		log.Fatal("failed to schedule daily rollup", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	chatHandler := handler.NewChatHandler(orch, log)
	convHandler := handler.NewConversationHandler(st, log)
	entHandler := handler.NewEntitlementHandler(reg, led, st, cache, log)
	healthHandler := handler.NewHealthHandler(st, natsConn)

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/chat", chatHandler.Chat)
		r.Get("/entitlements", entHandler.Get)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", convHandler.List)
			r.Get("/{id}", convHandler.Get)
			r.Get("/{id}/messages", convHandler.Messages)
			r.Delete("/{id}", convHandler.Delete)
		})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: SSE responses stay open for the full
		// provider stream.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildProviders constructs an adapter per configured provider. A
// missing key disables that provider; its models reject as unavailable.
func buildProviders(cfg *config.Config, log *logger.Logger) map[string]provider.Client {
	providers := make(map[string]provider.Client)

	if cfg.AnthropicAPIKey != "" {
		c, err := provider.NewAnthropicClient(cfg.AnthropicAPIKey)
		if err != nil {
			log.Warn("anthropic adapter disabled", zap.Error(err))
		} else {
			providers[registry.ProviderAnthropic] = c
		}
	}
	if cfg.OpenAIAPIKey != "" {
		c, err := provider.NewOpenAIClient(cfg.OpenAIAPIKey)
		if err != nil {
			log.Warn("openai adapter disabled", zap.Error(err))
		} else {
			providers[registry.ProviderOpenAI] = c
		}
	}
	if cfg.QwenAPIKey != "" {
		c, err := provider.NewQwenClient(cfg.QwenAPIKey, cfg.QwenBaseURL)
		if err != nil {
			log.Warn("qwen adapter disabled", zap.Error(err))
		} else {
			providers[registry.ProviderQwen] = c
		}
	}
	if cfg.GeminiAPIKey != "" {
		c, err := provider.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiBaseURL)
		if err != nil {
			log.Warn("gemini adapter disabled", zap.Error(err))
		} else {
			providers[registry.ProviderGemini] = c
		}
	}
	if cfg.OllamaBaseURL != "" {
		c, err := provider.NewOllamaClient(cfg.OllamaBaseURL)
		if err != nil {
			log.Warn("ollama adapter disabled", zap.Error(err))
		} else {
			providers[registry.ProviderOllama] = c
		}
	}

	if len(providers) == 0 {
		log.Warn("no provider adapters configured; every dispatch will reject")
	}
	return providers
}

// buildSyncFunc probes each configured provider once and marks every
// catalog model reachable or not by its provider's health.
func buildSyncFunc(reg *registry.Registry, providers map[string]provider.Client) availability.SyncFunc {
	return func(ctx context.Context) (map[string]bool, error) {
		up := make(map[string]bool, len(providers))
		var mu sync.Mutex
		var wg sync.WaitGroup

		for name, client := range providers {
			name, client := name, client
			wg.Add(1)
			go func() {
				defer wg.Done()
				pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				err := client.Ping(pingCtx)
				mu.Lock()
				up[name] = err == nil
				mu.Unlock()
			}()
		}
		wg.Wait()

		reachable := make(map[string]bool)
		for _, mc := range reg.Models() {
			ok, probed := up[mc.Provider]
			reachable[mc.ID] = probed && ok
		}
		return reachable, nil
	}
}
