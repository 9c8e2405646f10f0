package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/garloff/jitsi-whisper-bridge/internal/auth"
	"github.com/garloff/jitsi-whisper-bridge/internal/config"
	"github.com/garloff/jitsi-whisper-bridge/internal/filter"
	"github.com/garloff/jitsi-whisper-bridge/internal/metrics"
	"github.com/garloff/jitsi-whisper-bridge/internal/server"
	"github.com/garloff/jitsi-whisper-bridge/internal/whisper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "jitsi-whisper-bridge"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	host := flag.String("host", "", "Override bind address")
	port := flag.Int("port", 0, "Override listen port")
	whisperURL := flag.String("whisper-url", "", "Override whisper backend inference URL")
	noJWT := flag.Bool("no-jwt", false, "Disable JWT authentication (development only)")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Apply flag overrides
	if *host != "" {
		cfg.Server.BindAddress = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *whisperURL != "" {
		cfg.Whisper.URL = *whisperURL
	}
	if *noJWT {
		cfg.JWT.Enabled = false
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("port", cfg.Server.Port),
		slog.String("whisper_url", cfg.Whisper.URL),
		slog.Int("whisper_timeout", cfg.Whisper.Timeout),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("chunk_duration_ms", cfg.Audio.ChunkDurationMs),
		slog.Int("min_buffer_ms", cfg.Audio.MinBufferMs),
		slog.Bool("jwt_enabled", cfg.JWT.Enabled),
		slog.Bool("filter_enabled", cfg.Filter.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Load trust material for connection authentication
	verifier, err := auth.NewVerifier(cfg.JWT)
	if err != nil {
		logger.Error("Failed to initialize JWT verifier", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if verifier.Enabled() {
		logger.Info("JWT verification enabled",
			slog.String("public_key_path", cfg.JWT.PublicKeyPath),
			slog.String("audience", cfg.JWT.Audience),
		)
	} else {
		logger.Warn("JWT verification disabled, accepting all connections")
	}

	// Compile the hallucination rule set
	rules, err := filter.NewRuleSet(cfg.Filter)
	if err != nil {
		logger.Error("Failed to compile hallucination filter", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Hallucination filter initialized",
		slog.Bool("enabled", cfg.Filter.Enabled),
		slog.Int("languages", rules.LanguageCount()),
		slog.Int("patterns", rules.PatternCount()),
	)

	// Initialize the whisper backend client
	backend := whisper.NewClient(whisper.Config{
		URL:            cfg.Whisper.URL,
		Timeout:        cfg.Whisper.GetTimeoutDuration(),
		MaxRetries:     cfg.Whisper.MaxRetries,
		AutoDetectCode: cfg.Language.AutoDetectCode,
	}, logger)
	logger.Info("Whisper backend client initialized",
		slog.String("url", cfg.Whisper.URL),
		slog.Duration("timeout", cfg.Whisper.GetTimeoutDuration()),
	)

	// Initialize the bridge server
	bridge := server.NewServer(cfg, verifier, rules, backend, appMetrics, logger)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, bridge, backend, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start the bridge server
	if err := bridge.Start(); err != nil {
		logger.Error("Failed to start bridge server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("ws_endpoint", fmt.Sprintf("ws://%s:%d%s{meeting}", cfg.Server.BindAddress, cfg.Server.Port, server.WSPathPrefix)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop the bridge: close the listener, then give sessions the grace
	// period to flush in-flight work
	bridgeCtx, bridgeCancel := context.WithTimeout(context.Background(),
		cfg.Server.GetShutdownGrace()+5*time.Second)
	defer bridgeCancel()

	if err := bridge.Stop(bridgeCtx); err != nil {
		logger.Error("Error stopping bridge server", slog.String("error", err.Error()))
	}

	// Get final statistics
	serverStats := bridge.GetStatistics()
	backendStats := backend.GetStats()
	logger.Info("Final server statistics",
		slog.Uint64("connections_total", serverStats.ConnectionsTotal),
		slog.Uint64("auth_rejections", serverStats.AuthRejections),
		slog.Uint64("backend_requests", backendStats.RequestsSent),
		slog.Uint64("backend_ok", backendStats.RequestsOk),
		slog.Uint64("backend_errors", backendStats.RequestsError),
		slog.Uint64("backend_timeouts", backendStats.Timeouts),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
