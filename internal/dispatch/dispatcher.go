// Package dispatch routes decoded requests to the speech providers.
package dispatch

import (
	"context"

	"github.com/book-expert/speech-worker/internal/cache"
	"github.com/book-expert/speech-worker/internal/core"
	"github.com/book-expert/speech-worker/internal/device"
	"github.com/book-expert/speech-worker/internal/protocol"
	"github.com/book-expert/speech-worker/internal/stt"
	"github.com/book-expert/speech-worker/internal/tts"
)

// Default model identifiers used when a request names none.
const (
	DefaultSTTModel = "openai/whisper-tiny"
	DefaultTTSModel = "facebook/mms-tts-eng"
)

const (
	// TaskInfo reports the worker state.
	TaskInfo = "info"

	errFmtUnknownTask = "Unknown task '%s'. Valid tasks: stt, tts, info."
)

// Transcriber is the STT side of the dispatcher.
type Transcriber interface {
	Transcribe(ctx context.Context, models *cache.Cache[core.Recognizer], modelID, audioPath string, params protocol.Params) (protocol.Result, error)
}

// Synthesizer is the TTS side of the dispatcher.
type Synthesizer interface {
	Synthesize(ctx context.Context, models *cache.Cache[*tts.Context], modelID, text string, params protocol.Params) (protocol.Result, error)
}

// Dispatcher owns the model caches and hands them to the providers.
type Dispatcher struct {
	transcriber Transcriber
	synthesizer Synthesizer
	device      device.Selection
	sttModels   *cache.Cache[core.Recognizer]
	ttsModels   *cache.Cache[*tts.Context]
}

// New creates a dispatcher with empty caches.
func New(transcriber Transcriber, synthesizer Synthesizer, dev device.Selection) *Dispatcher {
	return &Dispatcher{
		transcriber: transcriber,
		synthesizer: synthesizer,
		device:      dev,
		sttModels:   cache.New[core.Recognizer](),
		ttsModels:   cache.New[*tts.Context](),
	}
}

// Dispatch runs one request. Unknown tasks are validation failures; provider
// errors and malformed params are returned as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, req protocol.Request) (protocol.Result, error) {
	switch req.Task {
	case stt.TaskName:
		paramsErr := req.ParamsErr()
		if paramsErr != nil {
			return protocol.Result{}, paramsErr
		}

		return d.transcriber.Transcribe(ctx, d.sttModels, orDefault(req.Model, DefaultSTTModel), req.Input, req.Params)
	case tts.TaskName:
		paramsErr := req.ParamsErr()
		if paramsErr != nil {
			return protocol.Result{}, paramsErr
		}

		return d.synthesizer.Synthesize(ctx, d.ttsModels, orDefault(req.Model, DefaultTTSModel), req.Input, req.Params)
	case TaskInfo:
		return protocol.OK(d.Info()), nil
	default:
		return protocol.Invalid(errFmtUnknownTask, req.Task), nil
	}
}

// Info snapshots the device and the loaded models.
func (d *Dispatcher) Info() protocol.InfoResponse {
	return protocol.InfoResponse{
		Status:     protocol.StatusSuccess,
		Device:     d.device.Name,
		TorchDType: d.device.TorchDType(),
		STTDefault: DefaultSTTModel,
		TTSDefault: DefaultTTSModel,
		LoadedSTT:  d.sttModels.Keys(),
		LoadedTTS:  d.ttsModels.Keys(),
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}
