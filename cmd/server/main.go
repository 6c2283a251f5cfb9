package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/abaquiz/backend/internal/app"
	"github.com/abaquiz/backend/internal/config"
	"github.com/abaquiz/backend/internal/logging"
	"github.com/abaquiz/backend/internal/middleware"
	"github.com/abaquiz/backend/internal/models"
	"github.com/abaquiz/backend/internal/pool"
	"github.com/abaquiz/backend/internal/questions"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Config path comes from ABAQUIZ_CONFIG, falling back to config.yaml.
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (or JWT_SECRET) is required")
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	r := newRouter(ctx, a)
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Bot-API-Key"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.ValidateContent(ctx)
	go a.Pool.StartWorker(ctx, cfg.Pool.CheckInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down")
	if p := a.Pool.Current(); p != nil && !p.Complete() {
		p.RequestCancel()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// healthResponse lists areas without study content; the service stays up
// but skips generation for them.
type healthResponse struct {
	Status         string               `json:"status"`
	MissingContent []models.ContentArea `json:"missing_content,omitempty"`
}

func newRouter(ctx context.Context, a *app.App) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Instrument(a.Logger.Named("http")))

	api := r.PathPrefix("/api/v1").Subrouter()

	// Public routes
	api.HandleFunc("/auth/login", a.Auth.Login).Methods("POST")

	questionHandler := questions.NewHandler(a.Questions, a.Logger.Named("questions"))
	poolHandler := pool.NewHandler(ctx, a.Pool, a.Logger.Named("admin"))

	// Admin routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.JWTAuth(a.Auth))
	questionHandler.RegisterRoutes(protected)
	poolHandler.RegisterRoutes(protected)

	// Chat bot routes
	bot := api.PathPrefix("").Subrouter()
	bot.Use(middleware.BotAuth(a.Config.Auth.BotAPIKey))
	questionHandler.RegisterBotRoutes(bot)

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := a.DB.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(healthResponse{Status: "unavailable"})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(healthResponse{
			Status:         "ok",
			MissingContent: a.Generator.MissingContent(),
		})
	}).Methods("GET")

	return r
}
