// Package core defines the capability interfaces the worker depends on. The
// neural networks, tokenizers and vocoders live behind these; the worker only
// orchestrates them.
package core

import (
	"context"

	"github.com/book-expert/speech-worker/internal/device"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// RecognizeOptions are the knobs forwarded to a speech recognizer.
type RecognizeOptions struct {
	// Language forces transcription in this language. Empty means auto-detect.
	Language string
	// Task is "transcribe" when Language is set, empty otherwise.
	Task             string
	ReturnTimestamps bool
	// ChunkLength is the window size in seconds used for long inputs.
	ChunkLength float64
	BatchSize   int
}

// Chunk is one timestamped piece of a transcript.
type Chunk struct {
	Text      string    `json:"text"`
	Timestamp []float64 `json:"timestamp"`
}

// Transcript is the raw recognizer output.
type Transcript struct {
	Text   string
	Chunks []Chunk
}

// Recognizer transcribes an audio file.
type Recognizer interface {
	Recognize(ctx context.Context, audioPath string, opts RecognizeOptions) (Transcript, error)
}

// RecognizerLoader builds a Recognizer for a model identifier on a device.
type RecognizerLoader interface {
	LoadRecognizer(ctx context.Context, modelID string, dev device.Selection) (Recognizer, error)
}

// TokenBatch is a batch of token ids with its attention mask.
type TokenBatch struct {
	InputIDs      [][]int64
	AttentionMask [][]int64
}

// Tokenizer turns text into model input ids.
type Tokenizer interface {
	Encode(ctx context.Context, text string) (TokenBatch, error)
}

// WaveformModel maps token ids straight to audio (VITS/MMS).
type WaveformModel interface {
	// Generate returns one waveform per batch row.
	Generate(ctx context.Context, batch TokenBatch) ([][]float32, error)
	SampleRate() int
}

// SpeechProcessor prepares text for a spectrogram model.
type SpeechProcessor interface {
	Encode(ctx context.Context, text string) (TokenBatch, error)
}

// Vocoder turns spectrograms into waveforms. It is passed to a
// SpectrogramModel rather than called directly.
type Vocoder interface {
	Handle() string
}

// SpectrogramModel generates speech conditioned on a speaker embedding
// (SpeechT5).
type SpectrogramModel interface {
	GenerateSpeech(ctx context.Context, inputIDs []int64, speaker []float32, vocoder Vocoder) ([]float32, error)
}

// SynthesisLoader loads the components of every supported TTS family.
type SynthesisLoader interface {
	LoadTokenizer(ctx context.Context, modelID string) (Tokenizer, error)
	LoadWaveformModel(ctx context.Context, modelID string, dev device.Selection) (WaveformModel, error)
	LoadSpeechProcessor(ctx context.Context, modelID string) (SpeechProcessor, error)
	LoadSpectrogramModel(ctx context.Context, modelID string, dev device.Selection) (SpectrogramModel, error)
	LoadVocoder(ctx context.Context, modelID string, dev device.Selection) (Vocoder, error)
}

// SpeakerEmbeddings is an indexed dataset of speaker x-vectors.
type SpeakerEmbeddings interface {
	Embedding(ctx context.Context, index int) ([]float32, error)
}

// LoadNotifier is told before a model load that may block for a long time.
type LoadNotifier interface {
	Loading(task, model string) error
}

// ArtifactMeta describes a synthesized file handed to an ArtifactSink.
type ArtifactMeta struct {
	Model      string
	SampleRate int
	WorkflowID string
}

// ArtifactSink stores a synthesized file and returns its key.
type ArtifactSink interface {
	Store(ctx context.Context, path string, meta ArtifactMeta) (string, error)
}
