package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/tendant/simple-files/pkg/simplefiles/api"
	"github.com/tendant/simple-files/pkg/simplefiles/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n\n%s", os.Args[0], config.EnvUsage())
	}
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration from environment
	serverConfig, err := config.Load(config.FromEnv())
	if err != nil {
		slog.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Build service from configuration
	app, err := serverConfig.Build(ctx, logger)
	if err != nil {
		slog.Error("Failed to build service", "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", serverConfig.Port),
		Handler:           NewHTTPServer(app).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Server is running", "port", serverConfig.Port, "env", serverConfig.Environment)
		slog.Info("Health check available", "url", fmt.Sprintf("http://localhost:%s/health", serverConfig.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		slog.Info("Shutting down server", "signal", sig.String())
	case err := <-serverErr:
		slog.Error("Server error", "err", err)
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "err", err)
		exitCode = 1
	}

	// Stores close after in-flight requests drained
	if err := app.Close(); err != nil {
		slog.Error("Failed to release resources", "err", err)
		exitCode = 1
	}

	slog.Info("Server exiting")
	os.Exit(exitCode)
}

// HTTPServer wraps the simple-files service for HTTP access
type HTTPServer struct {
	app *config.App
}

// NewHTTPServer creates a new HTTP server wrapper
func NewHTTPServer(app *config.App) *HTTPServer {
	return &HTTPServer{app: app}
}

// Routes sets up the HTTP routes
func (s *HTTPServer) Routes() http.Handler {
	cfg := s.app.Config
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(api.RecoveryMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition", "X-Request-ID"},
		MaxAge:         300,
	}))
	if s.app.Metrics != nil {
		r.Use(s.app.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.app.Metrics.Handler())
	}

	// Health check
	r.Get("/health", api.HealthHandler(s.app.Service))

	// API routes
	files := api.NewFilesHandler(s.app.Service, api.WithMaxUploadBytes(cfg.MaxUploadBytes))
	r.Mount("/api/files", files.Routes())

	return r
}
