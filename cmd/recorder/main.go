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

	"github.com/medscribe/scribe-service/internal/capture"
	"github.com/medscribe/scribe-service/internal/config"
	"github.com/medscribe/scribe-service/internal/segment"
	"github.com/medscribe/scribe-service/internal/upload"
)

const defaultConfigPath = "configs/recorder.yaml"

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	inputPath := flag.String("input", "", "Capture source file (overrides configuration)")
	duration := flag.Duration("duration", 0, "Recording duration, 0 records until interrupted")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadRecorder(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *inputPath != "" {
		cfg.Device.InputPath = *inputPath
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Recorder starting",
		slog.String("config_path", *configPath),
		slog.String("input_path", cfg.Device.InputPath),
		slog.String("upload_endpoint", cfg.Upload.Endpoint),
		slog.Int("fragment_bytes", cfg.Device.FragmentBytes),
		slog.Int("flush_threshold_bytes", cfg.Capture.FlushThresholdBytes),
	)

	// Upload transport to the orchestrator
	transport, err := upload.NewTransport(upload.TransportConfig{
		Endpoint: cfg.Upload.Endpoint,
		Timeout:  cfg.Upload.GetTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create upload transport", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Dispatcher serializes segment uploads and reports per-epoch outcomes
	dispatcher := upload.NewDispatcher(transport, upload.DispatcherConfig{
		QueueSize:  cfg.Capture.MaxPendingEpochs,
		MaxRetries: cfg.Upload.MaxRetries,
	}, func(epoch *upload.Epoch, result *upload.UploadResult, err error) {
		if err != nil {
			logger.Error("Segment upload failed",
				slog.String("session_id", epoch.SessionID),
				slog.Uint64("epoch", epoch.Seq),
				slog.Int("bytes", epoch.Size()),
				slog.String("error", err.Error()),
			)
			return
		}
		logger.Info("Segment transcribed",
			slog.String("session_id", epoch.SessionID),
			slog.Uint64("epoch", epoch.Seq),
			slog.String("request_id", result.RequestID),
			slog.String("transcript", result.Transcript),
		)
	}, logger)
	dispatcher.Start()

	// File-backed capture device standing in for a microphone
	device, err := capture.NewFileDevice(capture.FileDeviceConfig{
		Path:          cfg.Device.InputPath,
		FragmentBytes: cfg.Device.FragmentBytes,
		Interval:      cfg.Device.GetIntervalDuration(),
	})
	if err != nil {
		logger.Error("Failed to create capture device", slog.String("error", err.Error()))
		os.Exit(1)
	}

	policy := segment.NewFlushPolicy(cfg.Capture.FlushThresholdBytes)
	controller := capture.NewController(device, dispatcher, policy, logger)

	sessionID, err := controller.Start(context.Background())
	if err != nil {
		logger.Error("Failed to start recording", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if *duration > 0 {
		logger.Info("Recording for fixed duration",
			slog.String("session_id", sessionID),
			slog.Duration("duration", *duration),
		)
		select {
		case <-time.After(*duration):
			logger.Info("Recording duration elapsed")
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		}
	} else {
		logger.Info("Recording until interrupted", slog.String("session_id", sessionID))
		sig := <-sigChan
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	}

	// Stop emission and force the final flush before draining the queue
	if err := controller.Stop(); err != nil {
		logger.Error("Error stopping recording", slog.String("error", err.Error()))
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()

	if err := dispatcher.Close(closeCtx); err != nil {
		logger.Error("Error draining upload queue", slog.String("error", err.Error()))
	}

	status := controller.Status()
	stats := dispatcher.GetStats()
	logger.Info("Final recorder statistics",
		slog.Uint64("fragments_seen", status.FragmentsSeen),
		slog.Uint64("bytes_seen", status.BytesSeen),
		slog.Uint64("flushes", status.Flushes),
		slog.Uint64("backpressure_hits", status.BackpressureHits),
		slog.Uint64("epochs_delivered", stats.Delivered),
		slog.Uint64("epochs_failed", stats.Failed),
		slog.Uint64("upload_retries", stats.Retries),
	)

	logger.Info("Recorder stopped")
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
