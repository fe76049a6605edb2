// Command sfu runs the Selective Forwarding Unit signaling and room
// coordination core: a WebSocket signaling endpoint backed by an in-process
// media worker facade, room state machine, and optional cross-instance
// broadcast fan-out over Redis.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aryog/VibezLive-sub000/internal/auth"
	"github.com/Aryog/VibezLive-sub000/internal/bus"
	"github.com/Aryog/VibezLive-sub000/internal/config"
	"github.com/Aryog/VibezLive-sub000/internal/health"
	"github.com/Aryog/VibezLive-sub000/internal/logging"
	"github.com/Aryog/VibezLive-sub000/internal/mediaworker"
	"github.com/Aryog/VibezLive-sub000/internal/middleware"
	"github.com/Aryog/VibezLive-sub000/internal/ratelimit"
	"github.com/Aryog/VibezLive-sub000/internal/room"
	"github.com/Aryog/VibezLive-sub000/internal/signaling"
	"github.com/Aryog/VibezLive-sub000/internal/tracing"
)

func main() {
	// Load .env for local development; in deployment the environment is
	// injected and no file exists.
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, relying on environment variables")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		panic(err)
	}
	ctx := context.Background()

	if collector := os.Getenv("OTEL_COLLECTOR_ADDR"); collector != "" {
		tp, err := tracing.InitTracer(ctx, "sfu", collector)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to init tracer", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	var busSvc *bus.Service
	if cfg.RedisEnabled {
		busSvc, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "failed to connect to redis", zap.Error(err))
		}
		defer busSvc.Close()
	}

	engine, err := mediaworker.NewEngine(cfg)
	if err != nil {
		logging.Fatal(ctx, "failed to start media worker facade", zap.Error(err))
	}
	client := mediaworker.NewClient(engine)

	dispatcher := signaling.NewDispatcher(busSvc)
	registry := room.NewRegistry(room.Deps{
		Client: client,
		Bcast:  dispatcher,
		Bus:    busSvc,
	})
	dispatcher.SetRegistry(registry)
	defer dispatcher.Close()

	room.WatchMediaWorkerDeath(ctx, client.Died(), 5*time.Second, os.Exit)

	var redisClient *redis.Client
	if busSvc != nil {
		redisClient = busSvc.Client()
	}
	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logging.Fatal(ctx, "failed to build rate limiter", zap.Error(err))
	}

	var validator tokenValidator
	if cfg.AuthEnabled {
		if cfg.GoEnv != "production" {
			validator = &auth.MockValidator{}
		} else {
			v, err := auth.NewValidator(ctx, cfg.AuthIssuer, cfg.AuthAudience, cfg.AuthJWKSURL)
			if err != nil {
				logging.Fatal(ctx, "failed to build auth validator", zap.Error(err))
			}
			validator = v
		}
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	server := signaling.NewServer(dispatcher, allowedOrigins, validator, cfg.AuthEnabled, rateLimiter, cfg.SignalingPingTTL, cfg.SignalingPingTick)

	healthHandler := health.NewHandler(busSvc, engine)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("sfu"))
	router.Use(middleware.CorrelationID())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.HeaderXCorrelationID},
		AllowCredentials: true,
	}))

	router.GET("/ws", server.ServeWS)
	router.GET("/healthz", healthHandler.Liveness)
	router.GET("/readyz", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "sfu listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logging.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "graceful shutdown failed", zap.Error(err))
	}
}

// tokenValidator mirrors the narrower interface internal/signaling expects,
// so main does not need to import that unexported type directly.
type tokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}
