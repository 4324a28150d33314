package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-telemetry/internal/auth"
	"github.com/ukydev/fleet-telemetry/internal/config"
	"github.com/ukydev/fleet-telemetry/internal/db"
	"github.com/ukydev/fleet-telemetry/internal/directory"
	"github.com/ukydev/fleet-telemetry/internal/handlers"
	"github.com/ukydev/fleet-telemetry/internal/ingest"
	"github.com/ukydev/fleet-telemetry/internal/middleware"
	"github.com/ukydev/fleet-telemetry/internal/realtime"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// routes bundles everything the HTTP router serves.
type routes struct {
	auth     *handlers.AuthHandler
	sensors  *handlers.SensorHandler
	devices  *handlers.DeviceHandler
	health   http.Handler
	realtime http.Handler

	authMW  *middleware.AuthMiddleware
	limiter *middleware.RateLimitMiddleware

	corsOrigins      []string
	ingestRateLimit  int
	ingestRateWindow int
}

func newRouter(rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   rt.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler)

	r.Handle("/health", rt.health)
	r.Handle("/ws", rt.realtime)

	r.Post("/api/auth/register", rt.auth.Register)
	r.Post("/api/auth/login", rt.auth.Login)

	// Devices post readings without a user token.
	r.With(rt.limiter.RateLimit(rt.ingestRateLimit, rt.ingestRateWindow)).
		Post("/api/sensors/ingest", rt.sensors.Ingest)

	r.Group(func(r chi.Router) {
		r.Use(rt.authMW.Authenticate)

		r.Get("/api/auth/profile", rt.auth.GetProfile)
		r.Put("/api/auth/profile", rt.auth.UpdateProfile)
		r.Post("/api/auth/change-password", rt.auth.ChangePassword)

		r.Get("/api/sensors/latest/{deviceId}", rt.sensors.Latest)
		r.Get("/api/sensors/historical/{deviceId}", rt.sensors.Historical)
		r.Get("/api/sensors/statistics/{deviceId}", rt.sensors.Statistics)

		r.Route("/api/devices", func(r chi.Router) {
			r.Post("/", rt.devices.Create)
			r.Get("/", rt.devices.List)
			r.Get("/{id}", rt.devices.Get)
			r.Put("/{id}", rt.devices.Update)
			r.Delete("/{id}", rt.devices.Delete)
		})

		r.Group(func(r chi.Router) {
			r.Use(rt.authMW.RequireAdmin)
			r.Get("/api/sensors/alerts", rt.sensors.Alerts)
		})
	})

	return r
}

func main() {
	cfg := config.Load()
	cfg.SetupLogging()

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("Server stopped with error")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := db.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}()
	log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")

	database := client.Database(cfg.MongoDB)
	if err := db.EnsureIndexes(ctx, database); err != nil {
		return err
	}

	users := &db.MongoUserCollection{Collection: database.Collection(db.UsersCollection)}
	devices := &db.MongoDeviceCollection{Collection: database.Collection(db.DevicesCollection)}
	readings := &db.MongoReadingCollection{Collection: database.Collection(db.ReadingsCollection)}

	var cache directory.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).WithField("addr", cfg.RedisAddr).Warn("Redis unreachable, device cache disabled")
		} else {
			cache = directory.NewRedisCache(rdb, cfg.DeviceCacheTTL)
			log.WithField("addr", cfg.RedisAddr).Info("Device cache enabled")
		}
	}
	devicesDir := directory.New(devices, cache)

	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return err
	}

	registry := realtime.NewRegistry()
	broadcaster := realtime.NewBroadcaster(registry, devicesDir)
	lifecycle := realtime.NewLifecycle(registry, authService, users, devicesDir)
	pipeline := ingest.NewPipeline(devicesDir, readings, broadcaster)

	if cfg.MQTTBroker != "" {
		subscriber := ingest.NewMQTTSubscriber(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic, pipeline)
		defer subscriber.Stop()
		if err := subscriber.Start(); errors.Is(err, ingest.ErrConnectPending) {
			log.WithField("broker", cfg.MQTTBroker).Warn("MQTT broker not reachable yet, connecting in background")
		} else if err != nil {
			log.WithError(err).WithField("broker", cfg.MQTTBroker).Error("MQTT connect failed")
		}
	}

	handler := newRouter(routes{
		auth:    handlers.NewAuthHandler(authService, users),
		sensors: handlers.NewSensorHandler(pipeline, readings, devicesDir),
		devices: handlers.NewDeviceHandler(devices, devicesDir),
		health: handlers.NewHealthHandler(func(ctx context.Context) error {
			return client.Ping(ctx, readpref.Primary())
		}, registry.Count),
		realtime:         realtime.NewHandler(lifecycle, cfg.CORSOrigins, cfg.WSSendBuffer),
		authMW:           middleware.NewAuthMiddleware(authService),
		limiter:          middleware.NewRateLimitMiddleware(),
		corsOrigins:      cfg.CORSOrigins,
		ingestRateLimit:  cfg.IngestRateLimit,
		ingestRateWindow: cfg.IngestRateWindow,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
