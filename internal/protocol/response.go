package protocol

import "github.com/book-expert/speech-worker/internal/core"

const (
	StatusReady   = "ready"
	StatusLoading = "loading"
	StatusSuccess = "success"
	StatusError   = "error"
)

// ReadyResponse is emitted once before any request is read.
type ReadyResponse struct {
	Status string `json:"status"`
	Device string `json:"device"`
}

// LoadingResponse is emitted before a cache-miss model load.
type LoadingResponse struct {
	Status string `json:"status"`
	Task   string `json:"task"`
	Model  string `json:"model"`
}

// ErrorResponse reports a failed request. Traceback is only set for backend
// failures.
type ErrorResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Traceback string `json:"traceback,omitempty"`
}

// TranscriptionResponse is the result of an stt task.
type TranscriptionResponse struct {
	Status string       `json:"status"`
	Text   string       `json:"text"`
	Model  string       `json:"model"`
	Chunks []core.Chunk `json:"chunks,omitempty"`
}

// SynthesisResponse is the result of a tts task.
type SynthesisResponse struct {
	Status     string `json:"status"`
	File       string `json:"file"`
	SampleRate int    `json:"sample_rate"`
	Model      string `json:"model"`
	ObjectKey  string `json:"object_key,omitempty"`
}

// InfoResponse is the result of an info task.
type InfoResponse struct {
	Status     string   `json:"status"`
	Device     string   `json:"device"`
	TorchDType string   `json:"torch_dtype"`
	STTDefault string   `json:"stt_default"`
	TTSDefault string   `json:"tts_default"`
	LoadedSTT  []string `json:"loaded_stt"`
	LoadedTTS  []string `json:"loaded_tts"`
}

// Response is the union of every field the worker can emit. Clients decode
// each line into it and switch on Status.
type Response struct {
	Status     string       `json:"status"`
	Device     string       `json:"device,omitempty"`
	Task       string       `json:"task,omitempty"`
	Model      string       `json:"model,omitempty"`
	Error      string       `json:"error,omitempty"`
	Traceback  string       `json:"traceback,omitempty"`
	Text       string       `json:"text,omitempty"`
	Chunks     []core.Chunk `json:"chunks,omitempty"`
	File       string       `json:"file,omitempty"`
	SampleRate int          `json:"sample_rate,omitempty"`
	ObjectKey  string       `json:"object_key,omitempty"`
	TorchDType string       `json:"torch_dtype,omitempty"`
	STTDefault string       `json:"stt_default,omitempty"`
	TTSDefault string       `json:"tts_default,omitempty"`
	LoadedSTT  []string     `json:"loaded_stt,omitempty"`
	LoadedTTS  []string     `json:"loaded_tts,omitempty"`
}
