package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"culinarylens/internal/api"
	"culinarylens/internal/audio"
	"culinarylens/internal/config"
	"culinarylens/internal/controller"
	"culinarylens/internal/gateway"
	"culinarylens/internal/logger"
	"culinarylens/internal/platform/gemini"
	"culinarylens/internal/platform/kv"
	"culinarylens/internal/platform/localllm"
	"culinarylens/internal/preference"
	"culinarylens/internal/retry"
)

// localCredential stands in for an API key when the local model is used.
const localCredential = "local"

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Format:      cfg.App.LogFormat,
		Development: cfg.App.Environment == "development",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	session, closeSession, err := openBackend(ctx, cfg.Storage.SessionDriver, cfg.Storage, cfg.Storage.SessionTTL, log)
	if err != nil {
		return fmt.Errorf("error creating session store: %w", err)
	}
	defer closeSession()

	durable, closeDurable, err := openBackend(ctx, cfg.Storage.DurableDriver, cfg.Storage, 0, log)
	if err != nil {
		return fmt.Errorf("error creating durable store: %w", err)
	}
	defer closeDurable()

	store := preference.NewStore(session, durable, log.Named("preference"),
		preference.WithHistoryLimit(cfg.Storage.HistoryLimit))
	prefs := &credentialFallback{Store: store, fallback: fallbackCredential(cfg.AI)}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exec := retry.NewExecutor(log.Named("retry"), retry.WithMetrics(retry.NewMetrics(reg)))

	player := newPlayer(cfg.Audio, log)
	gw := gateway.New(gatewayConfig(cfg), backendFactory(cfg.AI, log), prefs, exec, player, log.Named("gateway"))
	defer gw.Close()

	ctrl := controller.New(gw, prefs, controller.Config{AdvanceDelay: cfg.Execution.AdvanceDelay}, log.Named("controller"))
	defer ctrl.Close()

	handler := api.NewHandler(ctrl, log.Named("api"), cfg.Media.MaxWidth, cfg.Server.RequestTimeout)
	router := newRouter(cfg, handler, reg)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("provider", cfg.AI.Provider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newRouter(cfg *config.Config, handler *api.Handler, reg *prometheus.Registry) *gin.Engine {
	if cfg.App.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.MaxMultipartMemory = cfg.Server.MaxUploadBytes

	// Configure CORS middleware
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler.RegisterRoutes(r)
	if cfg.Metrics.Enabled {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}
	return r
}

// openBackend builds the slot backend named by driver and its release func.
// A non-zero ttl expires Redis slots.
func openBackend(ctx context.Context, driver string, cfg config.StorageConfig, ttl time.Duration, log *zap.Logger) (kv.Backend, func(), error) {
	noop := func() {}
	switch driver {
	case "memory":
		return kv.NewMemory(), noop, nil
	case "file":
		b, err := kv.NewFile(cfg.FileDir)
		if err != nil {
			return nil, nil, err
		}
		return b, noop, nil
	case "redis":
		b, err := kv.NewRedis(ctx, kv.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   "culinarylens:",
			TTL:      ttl,
		}, log.Named("redis"))
		if err != nil {
			return nil, nil, err
		}
		return b, closer(b.Close, log), nil
	case "postgres":
		b, err := kv.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return b, closer(b.Close, log), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func closer(fn func() error, log *zap.Logger) func() {
	return func() {
		if err := fn(); err != nil {
			log.Warn("failed to close store", zap.Error(err))
		}
	}
}

func backendFactory(cfg config.AIConfig, log *zap.Logger) gateway.BackendFactory {
	if cfg.Provider == "local" {
		return localllm.Factory(cfg.LocalURL, cfg.LocalModel, log.Named("localllm"))
	}
	var opts []gemini.Option
	if cfg.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
	}
	return gemini.Factory(log.Named("gemini"), opts...)
}

// fallbackCredential is used when no key has been saved in settings: the
// configured key for Gemini, a placeholder for the local model.
func fallbackCredential(cfg config.AIConfig) string {
	if cfg.Provider == "local" {
		return localCredential
	}
	return cfg.APIKey
}

// credentialFallback serves the saved API key, or the fallback when none is
// saved.
type credentialFallback struct {
	*preference.Store
	fallback string
}

func (p *credentialFallback) Credential(ctx context.Context) string {
	if key := p.Store.Credential(ctx); key != "" {
		return key
	}
	return p.fallback
}

func newPlayer(cfg config.AudioConfig, log *zap.Logger) audio.Player {
	if !cfg.Enabled {
		return audio.NewNoopPlayer(log.Named("audio"))
	}
	p, err := audio.NewOtoPlayer(audio.SpeechSampleRate, audio.SpeechChannelCount, log.Named("audio"))
	if err != nil {
		log.Warn("audio output unavailable, speech is muted", zap.Error(err))
		return audio.NewNoopPlayer(log.Named("audio"))
	}
	return p
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	return gateway.Config{
		Models: gateway.Models{
			Vision:    cfg.AI.Models.Vision,
			Synthesis: cfg.AI.Models.Synthesis,
			Image:     cfg.AI.Models.Image,
			Speech:    cfg.AI.Models.Speech,
			Chat:      cfg.AI.Models.Chat,
		},
		Policies: gateway.Policies{
			Inventory:  policy(cfg.Retry.Inventory),
			Synthesis:  policy(cfg.Retry.Synthesis),
			DishImage:  policy(cfg.Retry.DishImage),
			Blueprint:  policy(cfg.Retry.Blueprint),
			Affinity:   policy(cfg.Retry.Affinity),
			Validation: policy(cfg.Retry.Validation),
			Speech:     policy(cfg.Retry.Speech),
			Chat:       policy(cfg.Retry.Chat),
		},
		ProtocolCount: cfg.AI.ProtocolCount,
	}
}

func policy(p config.PolicyConfig) retry.Policy {
	return retry.Policy{Retries: p.Retries, BaseDelay: p.BaseDelay}
}
