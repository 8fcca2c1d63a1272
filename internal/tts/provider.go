// Package tts turns text into WAV files using one of the supported model
// families. Loaded components are kept per model identifier by the caller's
// cache.
package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-worker/internal/audio"
	"github.com/book-expert/speech-worker/internal/cache"
	"github.com/book-expert/speech-worker/internal/core"
	"github.com/book-expert/speech-worker/internal/device"
	"github.com/book-expert/speech-worker/internal/fsutil"
	"github.com/book-expert/speech-worker/internal/protocol"
	"github.com/book-expert/speech-worker/internal/tts/text"
)

// TaskName is the request task served by this package.
const TaskName = "tts"

// SpeechT5 defaults.
const (
	VocoderModel        = "microsoft/speecht5_hifigan"
	DefaultSpeakerIndex = 7306
	SpeechT5SampleRate  = 16000
)

// Request parameters.
const (
	paramOutputPath    = "output_path"
	paramSpeakerIndex  = "speaker_idx"
	paramFamily        = "family"
	paramNormalizeText = "normalize_text"
	paramWorkflowID    = "workflow_id"
)

const (
	outputFileName      = "tts_output.wav"
	tempDirPattern      = "tts-"
	errFmtUnknownFamily = "Unrecognised TTS family for model: %s"
)

var (
	// ErrFamilyMismatch is returned when a cached model was loaded as another family.
	ErrFamilyMismatch = errors.New("model already loaded as a different family")
	// ErrEmptyWaveform is returned when a model produces no audio.
	ErrEmptyWaveform = errors.New("model produced no audio")
	// ErrEmptyInput is returned when tokenization yields no sequences.
	ErrEmptyInput = errors.New("tokenizer produced no input ids")
)

// Context holds everything needed to synthesize with one model. Only the
// fields of its Family are set.
type Context struct {
	Family     Family
	SampleRate int

	// mms
	Tokenizer core.Tokenizer
	Waveform  core.WaveformModel

	// speecht5
	Processor   core.SpeechProcessor
	Spectrogram core.SpectrogramModel
	Vocoder     core.Vocoder
	Speaker     []float32
}

// Provider loads TTS contexts and synthesizes speech.
type Provider struct {
	loader     core.SynthesisLoader
	speakers   core.SpeakerEmbeddings
	notifier   core.LoadNotifier
	sink       core.ArtifactSink
	normalizer *text.Normalizer
	device     device.Selection
	log        *logger.Logger
}

// NewProvider creates a TTS provider.
func NewProvider(
	loader core.SynthesisLoader,
	speakers core.SpeakerEmbeddings,
	notifier core.LoadNotifier,
	dev device.Selection,
	log *logger.Logger,
) *Provider {
	return &Provider{
		loader:     loader,
		speakers:   speakers,
		notifier:   notifier,
		normalizer: text.NewNormalizer(),
		device:     dev,
		log:        log,
	}
}

// SetArtifactSink makes every synthesized file also go to sink.
func (p *Provider) SetArtifactSink(sink core.ArtifactSink) {
	p.sink = sink
}

// Synthesize renders text with modelID and writes a WAV file. Validation
// failures come back as a failed Result; load and inference failures as an
// error.
func (p *Provider) Synthesize(
	ctx context.Context,
	models *cache.Cache[*Context],
	modelID string,
	input string,
	params protocol.Params,
) (protocol.Result, error) {
	family, err := requestedFamily(modelID, params)
	if err != nil {
		return protocol.Result{}, err
	}

	if !family.Known() {
		return protocol.Invalid(errFmtUnknownFamily, modelID), nil
	}

	synthCtx, err := models.GetOrCreate(modelID, func() (*Context, error) {
		return p.load(ctx, modelID, family)
	})
	if err != nil {
		return protocol.Result{}, err
	}

	if synthCtx.Family != family {
		return protocol.Result{}, fmt.Errorf("%w: %s is %s, requested %s", ErrFamilyMismatch, modelID, synthCtx.Family, family)
	}

	normalize, err := params.Bool(paramNormalizeText, false)
	if err != nil {
		return protocol.Result{}, err
	}

	if normalize {
		input = p.normalizer.Normalize(input)
	}

	samples, err := p.render(ctx, synthCtx, input, params)
	if err != nil {
		return protocol.Result{}, err
	}

	outputPath, err := resolveOutputPath(params)
	if err != nil {
		return protocol.Result{}, err
	}

	err = audio.WriteWAV(outputPath, samples, synthCtx.SampleRate)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("write synthesized audio: %w", err)
	}

	response := protocol.SynthesisResponse{
		Status:     protocol.StatusSuccess,
		File:       outputPath,
		SampleRate: synthCtx.SampleRate,
		Model:      modelID,
	}

	if p.sink != nil {
		response.ObjectKey, err = p.store(ctx, outputPath, modelID, synthCtx.SampleRate, params)
		if err != nil {
			return protocol.Result{}, err
		}
	}

	return protocol.OK(response), nil
}

func requestedFamily(modelID string, params protocol.Params) (Family, error) {
	override, err := params.String(paramFamily, "")
	if err != nil {
		return "", err
	}

	if override != "" {
		return Family(strings.ToLower(strings.TrimSpace(override))), nil
	}

	return DetectFamily(modelID), nil
}

func (p *Provider) load(ctx context.Context, modelID string, family Family) (*Context, error) {
	notifyErr := p.notifier.Loading(TaskName, modelID)
	if notifyErr != nil {
		return nil, fmt.Errorf("announce tts load: %w", notifyErr)
	}

	p.log.Info("Loading %s TTS model %s on %s (%s)", family, modelID, p.device.Name, p.device.Precision)
	start := time.Now()

	var (
		loaded  *Context
		loadErr error
	)

	switch family {
	case FamilySpeechT5:
		loaded, loadErr = p.loadSpeechT5(ctx, modelID)
	default:
		loaded, loadErr = p.loadMMS(ctx, modelID)
	}

	if loadErr != nil {
		p.log.Error("Failed to load TTS model %s: %v", modelID, loadErr)

		return nil, fmt.Errorf("load tts model %s: %w", modelID, loadErr)
	}

	p.log.Info("Loaded TTS model %s in %s", modelID, fsutil.FormatDuration(time.Since(start)))

	return loaded, nil
}

func (p *Provider) loadMMS(ctx context.Context, modelID string) (*Context, error) {
	tokenizer, err := p.loader.LoadTokenizer(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}

	model, err := p.loader.LoadWaveformModel(ctx, modelID, p.device)
	if err != nil {
		return nil, fmt.Errorf("waveform model: %w", err)
	}

	return &Context{
		Family:     FamilyMMS,
		SampleRate: model.SampleRate(),
		Tokenizer:  tokenizer,
		Waveform:   model,
	}, nil
}

func (p *Provider) loadSpeechT5(ctx context.Context, modelID string) (*Context, error) {
	processor, err := p.loader.LoadSpeechProcessor(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}

	model, err := p.loader.LoadSpectrogramModel(ctx, modelID, p.device)
	if err != nil {
		return nil, fmt.Errorf("spectrogram model: %w", err)
	}

	vocoder, err := p.loader.LoadVocoder(ctx, VocoderModel, p.device)
	if err != nil {
		return nil, fmt.Errorf("vocoder %s: %w", VocoderModel, err)
	}

	speaker, err := p.speakers.Embedding(ctx, DefaultSpeakerIndex)
	if err != nil {
		return nil, fmt.Errorf("default speaker embedding %d: %w", DefaultSpeakerIndex, err)
	}

	return &Context{
		Family:      FamilySpeechT5,
		SampleRate:  SpeechT5SampleRate,
		Processor:   processor,
		Spectrogram: model,
		Vocoder:     vocoder,
		Speaker:     speaker,
	}, nil
}

func (p *Provider) render(ctx context.Context, synthCtx *Context, input string, params protocol.Params) ([]float32, error) {
	if synthCtx.Family == FamilySpeechT5 {
		return p.renderSpeechT5(ctx, synthCtx, input, params)
	}

	return renderMMS(ctx, synthCtx, input)
}

func renderMMS(ctx context.Context, synthCtx *Context, input string) ([]float32, error) {
	batch, err := synthCtx.Tokenizer.Encode(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	waveforms, err := synthCtx.Waveform.Generate(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("generate waveform: %w", err)
	}

	if len(waveforms) == 0 || len(waveforms[0]) == 0 {
		return nil, ErrEmptyWaveform
	}

	return waveforms[0], nil
}

// renderSpeechT5 uses the cached default speaker unless speaker_idx picks
// another one for this call.
func (p *Provider) renderSpeechT5(ctx context.Context, synthCtx *Context, input string, params protocol.Params) ([]float32, error) {
	batch, err := synthCtx.Processor.Encode(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("process text: %w", err)
	}

	if len(batch.InputIDs) == 0 {
		return nil, ErrEmptyInput
	}

	speaker := synthCtx.Speaker

	if _, ok := params.Lookup(paramSpeakerIndex); ok {
		index, indexErr := params.Int(paramSpeakerIndex, DefaultSpeakerIndex)
		if indexErr != nil {
			return nil, indexErr
		}

		speaker, err = p.speakers.Embedding(ctx, index)
		if err != nil {
			return nil, fmt.Errorf("speaker embedding %d: %w", index, err)
		}
	}

	speech, err := synthCtx.Spectrogram.GenerateSpeech(ctx, batch.InputIDs[0], speaker, synthCtx.Vocoder)
	if err != nil {
		return nil, fmt.Errorf("generate speech: %w", err)
	}

	if len(speech) == 0 {
		return nil, ErrEmptyWaveform
	}

	return speech, nil
}

func resolveOutputPath(params protocol.Params) (string, error) {
	requested, err := params.String(paramOutputPath, "")
	if err != nil {
		return "", err
	}

	if requested != "" {
		return requested, nil
	}

	dir, err := os.MkdirTemp("", tempDirPattern)
	if err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	return filepath.Join(dir, outputFileName), nil
}

func (p *Provider) store(ctx context.Context, path, modelID string, sampleRate int, params protocol.Params) (string, error) {
	workflowID, err := params.String(paramWorkflowID, "")
	if err != nil {
		return "", err
	}

	key, err := p.sink.Store(ctx, path, core.ArtifactMeta{
		Model:      modelID,
		SampleRate: sampleRate,
		WorkflowID: workflowID,
	})
	if err != nil {
		return "", fmt.Errorf("store synthesized audio: %w", err)
	}

	p.log.Info("Stored %s as %s", path, key)

	return key, nil
}
