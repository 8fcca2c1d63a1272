// main package for the speech-worker
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/speech-worker/internal/config"
	"github.com/book-expert/speech-worker/internal/core"
	"github.com/book-expert/speech-worker/internal/device"
	"github.com/book-expert/speech-worker/internal/dispatch"
	"github.com/book-expert/speech-worker/internal/inference"
	"github.com/book-expert/speech-worker/internal/objectstore"
	"github.com/book-expert/speech-worker/internal/protocol"
	"github.com/book-expert/speech-worker/internal/stt"
	"github.com/book-expert/speech-worker/internal/tts"
	"github.com/book-expert/speech-worker/internal/whisperapi"
	"github.com/book-expert/speech-worker/internal/whispercpp"
	"github.com/book-expert/speech-worker/internal/whispercpp/ggml"
	"github.com/book-expert/speech-worker/internal/worker"
	"github.com/book-expert/speech-worker/internal/xvectors"
)

const (
	bootstrapLogFile = "speech-worker-bootstrap.log"
	logFile          = "speech-worker.log"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

func loadConfig(bootstrapLog *logger.Logger) *config.Config {
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Warn("Using default configuration: %v", err)

		return config.Default()
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	return cfg
}

// buildSink connects the configured artifact backend. The returned cleanup is
// always safe to call.
func buildSink(ctx context.Context, cfg *config.Config, log *logger.Logger) (core.ArtifactSink, func(), error) {
	noop := func() {}

	switch cfg.Storage.Backend {
	case config.BackendNATS:
		natsConnection, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}

		jetstreamContext, err := natsConnection.JetStream()
		if err != nil {
			natsConnection.Close()

			return nil, noop, fmt.Errorf("failed to open JetStream: %w", err)
		}

		store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
		if err != nil {
			natsConnection.Close()

			return nil, noop, err
		}

		log.Info("Publishing synthesized audio to NATS bucket %s", store.Bucket())

		return objectstore.NewPublisher(store, natsConnection, cfg.NATS.AudioChunkCreatedSubject, log), natsConnection.Close, nil
	case config.BackendS3:
		store, err := objectstore.NewS3(ctx, cfg.S3.Bucket, cfg.S3.Prefix, cfg.S3.Region)
		if err != nil {
			return nil, noop, err
		}

		log.Info("Publishing synthesized audio to s3://%s/%s", cfg.S3.Bucket, cfg.S3.Prefix)

		return objectstore.NewPublisher(store, nil, "", log), noop, nil
	default:
		return nil, noop, nil
	}
}

// buildRecognizers picks local whisper.cpp weights or a remote
// OpenAI-compatible endpoint.
func buildRecognizers(cfg *config.Config, log *logger.Logger) core.RecognizerLoader {
	if cfg.Models.STTBackend == config.RecognizerOpenAI {
		log.Info("Transcribing through %s", cfg.OpenAI.BaseURL)

		return whisperapi.NewLoader(cfg.OpenAI.BaseURL, os.Getenv(cfg.OpenAI.APIKeyEnv), cfg.OpenAI.Model, log)
	}

	return whispercpp.NewLoader(
		ggml.NewStore(cfg.Models.WhisperDir, cfg.Models.AutoDownload, log),
		cfg.Models.WhisperThreads,
		log,
	)
}

func run() error {
	// Protocol lines are the only thing allowed on the real stdout. Anything
	// else that writes to os.Stdout ends up on stderr.
	protocolOut := os.Stdout
	os.Stdout = os.Stderr

	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	cfg := loadConfig(bootstrapLog)

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, logFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx := context.Background()

	dev := device.Probe()
	finalLog.System("Speech worker starting on %s (%s)", dev.Name, dev.Precision)

	sink, closeSink, err := buildSink(ctx, cfg, finalLog)
	if err != nil {
		finalLog.Error("Failed to set up artifact storage: %v", err)

		return err
	}
	defer closeSink()

	emitter := protocol.NewEmitter(protocolOut)

	recognizers := buildRecognizers(cfg, finalLog)
	sidecar := inference.NewClient(cfg.Inference.URL, cfg.InferenceTimeout())
	speakers := xvectors.New(cfg.Speakers.Endpoint, cfg.Speakers.Dataset, cfg.Speakers.Split, cfg.InferenceTimeout())

	healthErr := sidecar.HealthCheck(ctx)
	if healthErr != nil {
		finalLog.Warn("Inference sidecar not reachable yet, tts requests will fail until it is: %v", healthErr)
	}

	synthesizer := tts.NewProvider(sidecar, speakers, emitter, dev, finalLog)
	if sink != nil {
		synthesizer.SetArtifactSink(sink)
	}

	dispatcher := dispatch.New(
		stt.NewProvider(recognizers, emitter, dev, finalLog),
		synthesizer,
		dev,
	)

	return worker.New(dispatcher, emitter, dev, finalLog).Run(ctx, os.Stdin)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Speech worker exited with error: %v\n", err)
		os.Exit(1)
	}
}
