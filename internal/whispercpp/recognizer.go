// Package whispercpp runs speech recognition with the whisper.cpp Go
// bindings.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/book-expert/logger"
	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/book-expert/speech-worker/internal/audio"
	"github.com/book-expert/speech-worker/internal/core"
	"github.com/book-expert/speech-worker/internal/device"
	"github.com/book-expert/speech-worker/internal/fsutil"
	"github.com/book-expert/speech-worker/internal/whispercpp/ggml"
)

const autoLanguage = "auto"

// ErrEnglishOnly is returned when a language other than English is forced on
// an English-only model.
var ErrEnglishOnly = errors.New("model is English-only")

// Loader opens whisper.cpp models. It implements core.RecognizerLoader.
type Loader struct {
	store   *ggml.Store
	threads uint
	log     *logger.Logger
}

// NewLoader creates a loader. threads <= 0 lets whisper.cpp decide.
func NewLoader(store *ggml.Store, threads int, log *logger.Logger) *Loader {
	var threadCount uint
	if threads > 0 {
		threadCount = uint(threads)
	}

	return &Loader{store: store, threads: threadCount, log: log}
}

// LoadRecognizer resolves, downloads if needed, and opens the weights for
// modelID. The device is fixed when whisper.cpp is compiled; it is only
// logged here.
func (l *Loader) LoadRecognizer(ctx context.Context, modelID string, dev device.Selection) (core.Recognizer, error) {
	path, err := l.store.Path(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("locate weights for %s: %w", modelID, err)
	}

	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("load whisper model %s: %w", path, err)
	}

	l.log.Info("Opened whisper.cpp weights %s for %s on %s (multilingual: %t)",
		path, modelID, dev.Name, model.IsMultilingual())

	return &Recognizer{model: model, threads: l.threads, log: l.log}, nil
}

// Recognizer transcribes with one loaded whisper.cpp model.
type Recognizer struct {
	model   whisper.Model
	threads uint
	log     *logger.Logger
}

// Recognize converts the file to 16 kHz mono and processes it in windows of
// opts.ChunkLength seconds. Segment timestamps are relative to the start of
// the file. BatchSize has no whisper.cpp equivalent and is ignored.
func (r *Recognizer) Recognize(ctx context.Context, audioPath string, opts core.RecognizeOptions) (core.Transcript, error) {
	samples, err := audio.LoadSpeech(audioPath)
	if err != nil {
		return core.Transcript{}, fmt.Errorf("decode %s: %w", audioPath, err)
	}

	window := len(samples)
	if opts.ChunkLength > 0 {
		window = max(int(opts.ChunkLength*audio.TargetSampleRate), 1)
	}

	var (
		text   strings.Builder
		chunks []core.Chunk
	)

	for start := 0; start < len(samples); start += window {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return core.Transcript{}, fmt.Errorf("transcription interrupted: %w", ctxErr)
		}

		end := min(start+window, len(samples))
		offset := float64(start) / audio.TargetSampleRate

		segments, processErr := r.process(samples[start:end], opts.Language)
		if processErr != nil {
			return core.Transcript{}, processErr
		}

		for _, segment := range segments {
			text.WriteString(segment.Text)

			if opts.ReturnTimestamps {
				chunks = append(chunks, core.Chunk{
					Text: segment.Text,
					Timestamp: []float64{
						offset + segment.Start.Seconds(),
						offset + segment.End.Seconds(),
					},
				})
			}
		}
	}

	r.log.Info("Transcribed %s (%s of audio)", audioPath,
		fsutil.FormatDuration(audio.Duration(len(samples))))

	return core.Transcript{Text: text.String(), Chunks: chunks}, nil
}

// process runs one window through a fresh context; a context carries the
// segment cursor of a single Process call.
func (r *Recognizer) process(samples []float32, language string) ([]whisper.Segment, error) {
	wctx, err := r.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create whisper context: %w", err)
	}

	err = r.configure(wctx, language)
	if err != nil {
		return nil, err
	}

	err = wctx.Process(samples, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("whisper process: %w", err)
	}

	var segments []whisper.Segment

	for {
		segment, nextErr := wctx.NextSegment()
		if errors.Is(nextErr, io.EOF) {
			return segments, nil
		}

		if nextErr != nil {
			return nil, fmt.Errorf("read whisper segment: %w", nextErr)
		}

		segments = append(segments, segment)
	}
}

func (r *Recognizer) configure(wctx whisper.Context, language string) error {
	wctx.SetTranslate(false)

	if r.threads > 0 {
		wctx.SetThreads(r.threads)
	}

	if !r.model.IsMultilingual() {
		if language != "" && language != "en" {
			return fmt.Errorf("%w: cannot transcribe %q", ErrEnglishOnly, language)
		}

		return nil
	}

	if language == "" {
		language = autoLanguage
	}

	err := wctx.SetLanguage(language)
	if err != nil {
		return fmt.Errorf("set language %q: %w", language, err)
	}

	return nil
}
