// Package whisperapi transcribes audio through an OpenAI-compatible
// transcription endpoint instead of local whisper.cpp weights.
package whisperapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/book-expert/logger"
	"github.com/sashabaranov/go-openai"

	"github.com/book-expert/speech-worker/internal/core"
	"github.com/book-expert/speech-worker/internal/device"
)

// Loader hands out recognizers bound to a remote endpoint. It satisfies
// core.RecognizerLoader.
type Loader struct {
	client *openai.Client
	// model replaces the requested model id when set. Hosted APIs only know
	// their own names (whisper-1), while self-hosted servers usually accept
	// the hub id.
	model string
	log   *logger.Logger
}

// NewLoader builds a loader for baseURL. An empty baseURL targets the public
// OpenAI API.
func NewLoader(baseURL, apiKey, model string, log *logger.Logger) *Loader {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(baseURL, "/")
	}

	return &Loader{client: openai.NewClientWithConfig(clientConfig), model: model, log: log}
}

// LoadRecognizer binds modelID. Nothing is fetched; the endpoint owns the
// weights and the device.
func (l *Loader) LoadRecognizer(_ context.Context, modelID string, _ device.Selection) (core.Recognizer, error) {
	remoteModel := modelID
	if l.model != "" {
		remoteModel = l.model
	}

	if l.log != nil {
		l.log.Info("Using remote transcription model %s for %s", remoteModel, modelID)
	}

	return &Recognizer{client: l.client, model: remoteModel}, nil
}

// Recognizer sends whole files to the transcription endpoint.
type Recognizer struct {
	client *openai.Client
	model  string
}

// Recognize uploads audioPath and maps the verbose response segments to
// chunks. Windowing happens server side, so ChunkLength and BatchSize are not
// forwarded.
func (r *Recognizer) Recognize(ctx context.Context, audioPath string, opts core.RecognizeOptions) (core.Transcript, error) {
	format := openai.AudioResponseFormatJSON
	if opts.ReturnTimestamps {
		format = openai.AudioResponseFormatVerboseJSON
	}

	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.model,
		FilePath: audioPath,
		Language: opts.Language,
		Format:   format,
	})
	if err != nil {
		return core.Transcript{}, fmt.Errorf("transcription request for %s failed: %w", audioPath, err)
	}

	transcript := core.Transcript{Text: resp.Text}
	if !opts.ReturnTimestamps {
		return transcript, nil
	}

	transcript.Chunks = make([]core.Chunk, 0, len(resp.Segments))
	for _, segment := range resp.Segments {
		transcript.Chunks = append(transcript.Chunks, core.Chunk{
			Text:      segment.Text,
			Timestamp: []float64{segment.Start, segment.End},
		})
	}

	return transcript, nil
}
