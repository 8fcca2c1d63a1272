package inference

import (
	"context"
	"fmt"

	"github.com/book-expert/speech-worker/internal/core"
)

// textEncoder serves both tokenizers and SpeechT5 processors; the sidecar
// exposes them through the same endpoint.
type textEncoder struct {
	client *Client
	handle string
}

func (e *textEncoder) Encode(ctx context.Context, text string) (core.TokenBatch, error) {
	if text == "" {
		return core.TokenBatch{}, ErrEmptyText
	}

	var encoded TokenizeResponse

	err := e.client.post(ctx, apiTokenize, TokenizeRequest{Handle: e.handle, Text: text}, &encoded)
	if err != nil {
		return core.TokenBatch{}, fmt.Errorf("tokenize: %w", err)
	}

	return core.TokenBatch{InputIDs: encoded.InputIDs, AttentionMask: encoded.AttentionMask}, nil
}

type waveformModel struct {
	client     *Client
	handle     string
	sampleRate int
}

func (m *waveformModel) Generate(ctx context.Context, batch core.TokenBatch) ([][]float32, error) {
	var generated WaveformResponse

	err := m.client.post(ctx, apiWaveform, WaveformRequest{
		Handle:        m.handle,
		InputIDs:      batch.InputIDs,
		AttentionMask: batch.AttentionMask,
	}, &generated)
	if err != nil {
		return nil, fmt.Errorf("generate waveform: %w", err)
	}

	return generated.Waveform, nil
}

func (m *waveformModel) SampleRate() int {
	return m.sampleRate
}

type spectrogramModel struct {
	client *Client
	handle string
}

func (m *spectrogramModel) GenerateSpeech(
	ctx context.Context,
	inputIDs []int64,
	speaker []float32,
	voc core.Vocoder,
) ([]float32, error) {
	var generated SpeechResponse

	err := m.client.post(ctx, apiSpeech, SpeechRequest{
		Handle:            m.handle,
		Vocoder:           voc.Handle(),
		InputIDs:          inputIDs,
		SpeakerEmbeddings: speaker,
	}, &generated)
	if err != nil {
		return nil, fmt.Errorf("generate speech: %w", err)
	}

	return generated.Speech, nil
}

type vocoder string

func (v vocoder) Handle() string {
	return string(v)
}
