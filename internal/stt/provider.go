// Package stt transcribes audio files with a lazily loaded recognizer per
// model identifier.
package stt

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-worker/internal/cache"
	"github.com/book-expert/speech-worker/internal/core"
	"github.com/book-expert/speech-worker/internal/device"
	"github.com/book-expert/speech-worker/internal/fsutil"
	"github.com/book-expert/speech-worker/internal/protocol"
)

// TaskName is the request task served by this package.
const TaskName = "stt"

// Recognition defaults.
const (
	DefaultChunkLength = 30.0
	DefaultBatchSize   = 8
	forcedTask         = "transcribe"
)

// Request parameters.
const (
	paramLanguage         = "language"
	paramReturnTimestamps = "return_timestamps"
	paramChunkLength      = "chunk_length_s"
	paramBatchSize        = "batch_size"
)

const errFmtAudioNotFound = "Audio file not found: %s"

// Provider loads recognizers and runs transcription.
type Provider struct {
	loader   core.RecognizerLoader
	notifier core.LoadNotifier
	device   device.Selection
	log      *logger.Logger
}

// NewProvider creates an STT provider.
func NewProvider(
	loader core.RecognizerLoader,
	notifier core.LoadNotifier,
	dev device.Selection,
	log *logger.Logger,
) *Provider {
	return &Provider{
		loader:   loader,
		notifier: notifier,
		device:   dev,
		log:      log,
	}
}

// Transcribe runs modelID over the file at audioPath. A missing file is a
// validation failure and never touches models.
func (p *Provider) Transcribe(
	ctx context.Context,
	models *cache.Cache[core.Recognizer],
	modelID string,
	audioPath string,
	params protocol.Params,
) (protocol.Result, error) {
	_, statErr := os.Stat(audioPath)
	if statErr != nil {
		return protocol.Invalid(errFmtAudioNotFound, audioPath), nil
	}

	recognizer, err := models.GetOrCreate(modelID, func() (core.Recognizer, error) {
		return p.load(ctx, modelID)
	})
	if err != nil {
		return protocol.Result{}, err
	}

	opts, err := recognizeOptions(params)
	if err != nil {
		return protocol.Result{}, err
	}

	transcript, err := recognizer.Recognize(ctx, audioPath, opts)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("transcribe %s: %w", audioPath, err)
	}

	response := protocol.TranscriptionResponse{
		Status: protocol.StatusSuccess,
		Text:   strings.TrimSpace(transcript.Text),
		Model:  modelID,
	}

	if opts.ReturnTimestamps {
		response.Chunks = transcript.Chunks
	}

	return protocol.OK(response), nil
}

func (p *Provider) load(ctx context.Context, modelID string) (core.Recognizer, error) {
	notifyErr := p.notifier.Loading(TaskName, modelID)
	if notifyErr != nil {
		return nil, fmt.Errorf("announce stt load: %w", notifyErr)
	}

	p.log.Info("Loading STT model %s on %s (%s)", modelID, p.device.Name, p.device.Precision)
	start := time.Now()

	recognizer, err := p.loader.LoadRecognizer(ctx, modelID, p.device)
	if err != nil {
		p.log.Error("Failed to load STT model %s: %v", modelID, err)

		return nil, fmt.Errorf("load stt model %s: %w", modelID, err)
	}

	p.log.Info("Loaded STT model %s in %s", modelID, fsutil.FormatDuration(time.Since(start)))

	return recognizer, nil
}

func recognizeOptions(params protocol.Params) (core.RecognizeOptions, error) {
	var opts core.RecognizeOptions

	language, err := params.String(paramLanguage, "")
	if err != nil {
		return opts, err
	}

	if language != "" {
		opts.Language = language
		opts.Task = forcedTask
	}

	opts.ReturnTimestamps, err = params.Bool(paramReturnTimestamps, false)
	if err != nil {
		return opts, err
	}

	opts.ChunkLength, err = params.Float(paramChunkLength, DefaultChunkLength)
	if err != nil {
		return opts, err
	}

	opts.BatchSize, err = params.Int(paramBatchSize, DefaultBatchSize)
	if err != nil {
		return opts, err
	}

	return opts, nil
}
