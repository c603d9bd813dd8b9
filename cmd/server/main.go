package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"slotwise/internal/consumer"
	"slotwise/internal/expiry"
	"slotwise/internal/handlers"
	"slotwise/internal/inbox"
	"slotwise/internal/outbox"
	"slotwise/internal/scheduling"
	"slotwise/internal/storage"
	"slotwise/libs/config"
	"slotwise/libs/db"
	"slotwise/libs/httpx"
	"slotwise/libs/kafkax"
	otelx "slotwise/libs/otel"
	"slotwise/libs/runtime"
)

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "slotwise")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	repo := storage.NewRepository(pool)
	svc := scheduling.NewService(repo, logger, nil, nil)

	outboxPublisher := outbox.NewPublisher(pool, outbox.NewRepository(pool), logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	// Hosts deactivated upstream stop taking bookings; existing accepted
	// bookings are untouched.
	if brokers := config.String("KAFKA_BROKERS", ""); strings.TrimSpace(brokers) != "" {
		deactivations := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "slotwise"),
			Topic:   config.String("KAFKA_HOST_DEACTIVATED_TOPIC", "accounts.host.deactivated.v1"),
		}, func(ctx context.Context, msg kafka.Message) error {
			var payload struct {
				HostID string `json:"host_id"`
			}
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
				return nil
			}
			if payload.HostID == "" {
				logger.Error("missing host_id in event", "topic", msg.Topic)
				return nil
			}
			if err := repo.SetRuleActive(ctx, payload.HostID, false); err != nil {
				if err == scheduling.ErrRuleNotFound {
					logger.Warn("deactivation for unknown host", "host_id", payload.HostID)
					return nil
				}
				return err
			}
			logger.Info("host deactivated", "host_id", payload.HostID)
			return nil
		})
		go deactivations.Run(ctx)
	}

	expiryWorker := expiry.NewWorker(repo, logger, nil, expiry.Config{
		Interval:  durationFromEnv("EXPIRY_INTERVAL_SECONDS", 60) * time.Second,
		MaxAge:    durationFromEnv("PENDING_MAX_AGE_HOURS", 72) * time.Hour,
		BatchSize: 50,
	})
	go expiryWorker.Run(ctx)

	availabilityHandler := handlers.NewAvailabilityHandler(svc, logger)
	bookingHandler := handlers.NewBookingHandler(svc, logger)
	hostHandler := handlers.NewHostHandler(svc, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/public/availability", availabilityHandler.Get)
	mux.HandleFunc("/api/v1/public/bookings", bookingHandler.Request)
	mux.HandleFunc("/api/v1/bookings", bookingHandler.List)
	mux.HandleFunc("/api/v1/bookings/accept", bookingHandler.Accept)
	mux.HandleFunc("/api/v1/bookings/reject", bookingHandler.Reject)
	mux.HandleFunc("/api/v1/bookings/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/bookings/reschedule", bookingHandler.Reschedule)
	mux.HandleFunc("/api/v1/hosts/rule", hostHandler.Rule)
	mux.HandleFunc("/api/v1/hosts/rule/ensure", hostHandler.EnsureRule)
	mux.HandleFunc("/api/v1/hosts/overrides", hostHandler.Overrides)
	mux.HandleFunc("/api/v1/hosts/booking-types", hostHandler.BookingTypes)

	limitPerMinute := 60
	if v, err := strconv.Atoi(config.String("RATE_LIMIT_PER_MINUTE", "60")); err == nil && v > 0 {
		limitPerMinute = v
	}
	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		redisDB := 0
		if v, err := strconv.Atoi(config.String("REDIS_DB", "0")); err == nil && v >= 0 {
			redisDB = v
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, config.String("RATE_LIMIT_FAIL_OPEN", "true") == "true")
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,PUT,OPTIONS")),
			AllowedHeaders: parseList(config.String("CORS_ALLOWED_HEADERS", "Content-Type,X-Request-Id,X-Actor-Id")),
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(10*time.Second),
		rateLimitMW,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, service)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func durationFromEnv(key string, fallback int) time.Duration {
	if v, err := strconv.Atoi(config.String(key, "")); err == nil && v > 0 {
		return time.Duration(v)
	}
	return time.Duration(fallback)
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
