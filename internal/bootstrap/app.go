package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	httpHandler "collab-board/internal/handler/http"
	wsHandler "collab-board/internal/handler/websocket"
	"collab-board/internal/hub"
	"collab-board/internal/middleware"
)

// Config holds everything the server reads from the environment.
type Config struct {
	ServerPort      string
	LogLevel        string
	AppEnv          string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RateLimitMax    int
	RateLimitWindow time.Duration
	SweepInterval   time.Duration
	StaleAfter      time.Duration
}

// LoadConfig reads configuration from a .env file if present, then the
// environment, applying defaults. REDIS_ADDR is optional: without it
// the HTTP rate limiter is disabled and the relay runs standalone.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:      os.Getenv("SERVER_PORT"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		AppEnv:          os.Getenv("APP_ENV"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RateLimitMax:    100,
		RateLimitWindow: time.Second,
		SweepInterval:   hub.DefaultSweepInterval,
		StaleAfter:      hub.DefaultStaleAfter,
	}
	cfg.RedisDB, _ = strconv.Atoi(os.Getenv("REDIS_DB"))

	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if v := os.Getenv("RATE_LIMIT_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitMax = n
		}
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SweepInterval = d
		}
	}
	if v := os.Getenv("STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.StaleAfter = d
		}
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("invalid LOG_LEVEL %q, using info", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// App wires the collaboration core together.
type App struct {
	Config      *Config
	RedisClient *redis.Client
	Registry    *hub.Registry
	Router      *hub.Router
	Supervisor  *hub.Supervisor
	HTTPServer  *http.Server
}

// NewApp builds every component and the HTTP surface. Nothing is
// started yet; call Start.
func NewApp() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logrus.SetLevel(level)
	if cfg.AppEnv == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logrus.Info("redis connected")
	} else {
		logrus.Info("REDIS_ADDR not set, rate limiting disabled")
	}

	registry := hub.NewRegistry()
	router := hub.NewRouter(registry)
	supervisor := hub.NewSupervisor(registry, router, cfg.SweepInterval, cfg.StaleAfter)
	ws := wsHandler.NewHandler(router)

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	if redisClient != nil {
		engine.Use(middleware.RateLimit(redisClient, cfg.RateLimitMax, cfg.RateLimitWindow))
	}
	engine.GET("/health", httpHandler.Health)
	engine.GET("/stats", httpHandler.Stats(registry))
	engine.GET("/ws", ws.Serve)

	return &App{
		Config:      cfg,
		RedisClient: redisClient,
		Registry:    registry,
		Router:      router,
		Supervisor:  supervisor,
		HTTPServer: &http.Server{
			Addr:    ":" + cfg.ServerPort,
			Handler: engine,
		},
	}, nil
}

// Start launches the liveness supervisor and the HTTP server.
func (a *App) Start() {
	go a.Supervisor.Run()
	go func() {
		logrus.Infof("server listening on %s", a.HTTPServer.Addr)
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("http server failed: %v", err)
		}
	}()
}

// Shutdown stops the sweep ticker, drains the HTTP server and closes
// the redis client. The sweep must stop or its timer handle keeps the
// process alive.
func (a *App) Shutdown() {
	logrus.Info("shutting down")
	a.Supervisor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("http server shutdown")
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			logrus.WithError(err).Error("redis close")
		}
	}
	logrus.Info("server exited")
}
