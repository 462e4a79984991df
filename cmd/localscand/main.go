// Command localscand is the main executable for the localscan port scan service.
// It initializes the history database, the nmap-backed scan service and the HTTP
// API server, and handles configuration reloads and graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"localscan/internal/api"
	"localscan/internal/config"
	"localscan/internal/database"
	"localscan/internal/metrics"
	"localscan/internal/scanner"
)

// Global variables for command line flags
var logLevelFlag string

// parseFlags parses command line flags and returns the config path
func parseFlags() string {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error), overrides the config file")
	flag.Parse()
	return *configPath
}

// setupLogging configures the global zerolog logger
func setupLogging(out io.Writer, level, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	applyLogLevel(level)

	if format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	// Use colored console output by default
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
}

func applyLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// newHandler builds the HTTP handler serving the API
func newHandler(cfg *config.Config, db *database.DB, scanService *scanner.ScanService, collector *metrics.Collector) http.Handler {
	router := mux.NewRouter()
	serverSettings := cfg.ServerSettings()
	metricsSettings := cfg.MetricsSettings()

	limiter := api.NewRateLimiter(serverSettings.RequestsPerSecond, serverSettings.RequestBurst)

	// Register API routes
	api.NewScanHandler(scanService, limiter).RegisterRoutes(router)
	api.NewHistoryHandler(db, cfg.DatabaseSettings().HistoryLimit).RegisterRoutes(router)
	api.NewStatusHandler(db, scanService, cfg).RegisterRoutes(router)

	if collector != nil && metricsSettings.Enabled {
		router.Handle(metricsSettings.Endpoint, collector.Handler()).Methods("GET")
	}

	// Set up CORS
	corsMiddleware := handlers.CORS(
		handlers.AllowedOrigins(serverSettings.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)

	recovery := handlers.RecoveryHandler(handlers.PrintRecoveryStack(cfg.GetLogLevel() == "debug"))

	return handlers.CustomLoggingHandler(io.Discard, recovery(corsMiddleware(router)), accessLog)
}

// accessLog writes one debug line per request through zerolog
func accessLog(_ io.Writer, params handlers.LogFormatterParams) {
	log.Debug().
		Str("component", "http").
		Str("method", params.Request.Method).
		Str("path", params.URL.Path).
		Int("status", params.StatusCode).
		Int("size", params.Size).
		Dur("duration", time.Since(params.TimeStamp)).
		Msg("Request handled")
}

func main() {
	// Parse command line flags
	configPath := parseFlags()

	// Configure logging before the config is read so load errors are visible
	setupLogging(os.Stderr, logLevelFlag, "console")

	// Load configuration
	cfg := config.GetConfig()
	if err := cfg.LoadConfig(configPath); err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load configuration")
	}

	level := cfg.GetLogLevel()
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	setupLogging(os.Stderr, level, cfg.Logging.Format)
	serverSettings := cfg.ServerSettings()
	dbSettings := cfg.DatabaseSettings()

	log.Info().Msg("Starting localscan port scan service")

	// Initialize database
	log.Info().Str("path", dbSettings.Path).Msg("Initializing database")
	db, err := database.New(dbSettings.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	var collector *metrics.Collector
	if cfg.MetricsSettings().Enabled {
		collector = metrics.NewCollector(true)
	}

	// Initialize scan service
	log.Info().Msg("Initializing scan service")
	scanService := scanner.New(cfg, scanner.NewNmapExecutor(cfg), db, collector)

	if err := scanService.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scan service")
	}

	// Set up HTTP server
	addr := fmt.Sprintf("%s:%d", serverSettings.Host, serverSettings.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      newHandler(cfg, db, scanService, collector),
		ReadTimeout:  time.Duration(serverSettings.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(serverSettings.WriteTimeout) * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Set up signal handling for reloads and graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range signalChan {
		if sig != syscall.SIGHUP {
			log.Info().Str("signal", sig.String()).Msg("Received termination signal")
			break
		}

		log.Info().Msg("Reloading configuration")
		if err := cfg.Reload(); err != nil {
			log.Error().Err(err).Msg("Configuration reload failed, keeping previous settings")
			continue
		}
		if logLevelFlag == "" {
			applyLogLevel(cfg.GetLogLevel())
		}
	}

	// Begin graceful shutdown
	log.Info().Msg("Shutting down...")

	// Create a shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(serverSettings.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	// Shutdown HTTP server
	log.Info().Msg("Shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop scan service
	if err := scanService.Stop(); err != nil {
		log.Error().Err(err).Msg("Scan service shutdown failed")
	}

	// Optimize database before exit
	log.Info().Msg("Optimizing database before exit")
	if err := db.OptimizeDatabase(); err != nil {
		log.Error().Err(err).Msg("Database optimization failed")
	}

	log.Info().Msg("localscan has been shut down gracefully")
}
