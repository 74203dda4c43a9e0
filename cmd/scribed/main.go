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

	"github.com/medscribe/scribe-service/internal/config"
	"github.com/medscribe/scribe-service/internal/events"
	"github.com/medscribe/scribe-service/internal/metrics"
	"github.com/medscribe/scribe-service/internal/notes"
	"github.com/medscribe/scribe-service/internal/server"
	"github.com/medscribe/scribe-service/internal/session"
	"github.com/medscribe/scribe-service/internal/store"
	"github.com/medscribe/scribe-service/internal/transcribe"
)

const (
	defaultConfigPath = "configs/scribed.yaml"
	serviceName       = "scribe-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("bind_address", cfg.HTTP.Address),
		slog.String("audio_dir", cfg.Storage.AudioDir),
		slog.String("transcript_dir", cfg.Storage.TranscriptDir),
		slog.String("transcription_provider", cfg.Transcription.Provider),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("notes_endpoint", cfg.Notes.Endpoint),
		slog.Bool("database_enabled", cfg.Database.DSN != ""),
		slog.Bool("events_enabled", cfg.Events.URL != ""),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize persistence
	audioStore, err := store.NewAudioStore(cfg.Storage.AudioDir, cfg.Storage.AudioExtension)
	if err != nil {
		logger.Error("Failed to create audio store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	transcriptLog, err := store.NewTranscriptLog(cfg.Storage.TranscriptDir)
	if err != nil {
		logger.Error("Failed to create transcript log", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if known, err := transcriptLog.Sessions(); err == nil {
		logger.Info("Transcript log opened", slog.Int("known_sessions", len(known)))
	}

	// Optional Postgres visit store
	var visitStore *store.VisitStore
	if cfg.Database.DSN != "" {
		visitStore, err = store.NewVisitStore(cfg.Database.DSN,
			cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			logger.Error("Failed to connect visit store", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Visit store connected")
	} else {
		logger.Info("Visit store disabled, no database DSN configured")
	}

	// Build the transcription collaborator client for the configured provider
	transcriber, err := newTranscriber(cfg.Transcription)
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Transcription client initialized",
		slog.String("provider", cfg.Transcription.Provider),
		slog.String("endpoint", cfg.Transcription.Endpoint),
	)

	// Note generation collaborator client
	noteClient, err := notes.NewClient(notes.Config{
		Endpoint:   cfg.Notes.Endpoint,
		APIKey:     cfg.Notes.APIKey,
		Model:      cfg.Notes.Model,
		Timeout:    cfg.Notes.GetTimeoutDuration(),
		MaxRetries: cfg.Notes.MaxRetries,
	})
	if err != nil {
		logger.Error("Failed to create notes client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Notes client initialized",
		slog.String("endpoint", cfg.Notes.Endpoint),
		slog.String("model", cfg.Notes.Model),
	)

	// Optional event publisher
	publisher, err := events.NewPublisher(events.Config{
		URL:      cfg.Events.URL,
		Exchange: cfg.Events.Exchange,
	}, logger)
	if err != nil {
		logger.Error("Failed to create event publisher", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize session manager
	sessionMgr, err := session.NewManager(logger, session.Config{
		SessionTimeout:  cfg.Session.GetSessionTimeoutDuration(),
		CleanupInterval: cfg.Session.GetCleanupIntervalDuration(),
	}, session.Collaborators{
		Transcriber:   transcriber,
		NoteGenerator: noteClient,
		AudioStore:    audioStore,
		TranscriptLog: transcriptLog,
		Visits:        visitStore,
		Publisher:     publisher,
	})
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session manager initialized",
		slog.Duration("session_timeout", cfg.Session.GetSessionTimeoutDuration()),
		slog.Duration("cleanup_interval", cfg.Session.GetCleanupIntervalDuration()),
	)

	// Initialize HTTP API server
	httpServer := server.NewHTTPServer(cfg.HTTP, logger, cfg, sessionMgr, visitStore, appMetrics)
	logger.Info("HTTP API server initialized",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Stop session manager (cleanup sessions, close collaborator clients)
	sessionMgr.Stop()

	// Close the database last, the manager may flush visits during Stop
	if visitStore != nil {
		if err := visitStore.Close(); err != nil {
			logger.Error("Error closing visit store", slog.String("error", err.Error()))
		}
	}

	// Get final statistics
	stats := sessionMgr.GetStats()
	audioStats := audioStore.Stats()
	logger.Info("Final service statistics",
		slog.Uint64("uploads_accepted", stats.UploadsAccepted),
		slog.Uint64("uploads_failed", stats.UploadsFailed),
		slog.Uint64("upload_bytes", stats.UploadBytes),
		slog.Uint64("notes_generated", stats.NotesGenerated),
		slog.Uint64("sessions_created", stats.SessionsCreated),
		slog.Uint64("audio_files_saved", audioStats.Saved),
	)

	logger.Info("Service stopped")
}

// newTranscriber builds the Transcriber for the configured provider
func newTranscriber(cfg config.TranscriptionConfig) (transcribe.Transcriber, error) {
	switch cfg.Provider {
	case "websocket":
		return transcribe.NewStreamClient(transcribe.StreamConfig{
			URL:        cfg.Endpoint,
			SampleRate: cfg.SampleRate,
			ChunkSize:  cfg.StreamChunk,
			Timeout:    cfg.GetTimeoutDuration(),
		})
	case "http":
		return transcribe.NewClient(transcribe.Config{
			Endpoint:      cfg.Endpoint,
			APIKey:        cfg.APIKey,
			Model:         cfg.Model,
			Language:      cfg.Language,
			ContentType:   cfg.ContentType,
			Timeout:       cfg.GetTimeoutDuration(),
			MaxRetries:    cfg.MaxRetries,
			MaxConcurrent: cfg.MaxConcurrent,
		})
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", cfg.Provider)
	}
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

	// Configure handler options
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
