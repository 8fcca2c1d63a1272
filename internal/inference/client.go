// Package inference is the HTTP client for the local model-serving sidecar
// that hosts the neural TTS components.
//
// The sidecar keeps every loaded component in memory and refers to it by an
// opaque handle. The worker loads each component once and then only sends
// handles and tensors over the wire.
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/book-expert/speech-worker/internal/core"
	"github.com/book-expert/speech-worker/internal/device"
)

// API endpoints and paths.
const (
	apiLoadComponent = "/v1/components/load"
	apiTokenize      = "/v1/tokenize"
	apiWaveform      = "/v1/waveform"
	apiSpeech        = "/v1/speech"
	apiHealth        = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// Component kinds understood by the sidecar.
const (
	KindTokenizer         = "tokenizer"
	KindVITS              = "vits"
	KindSpeechT5Processor = "speecht5_processor"
	KindSpeechT5          = "speecht5_tts"
	KindSpeechT5HiFiGAN   = "speecht5_hifigan"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "inference service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "inference service returned non-OK status: %s, body: %s"
)

var (
	// ErrMissingHandle is returned when a load response carries no handle.
	ErrMissingHandle = errors.New("inference service returned no component handle")
	// ErrMissingSampleRate is returned when a waveform model reports no rate.
	ErrMissingSampleRate = errors.New("inference service returned no sampling rate")
	// ErrEmptyText is returned when asked to tokenize nothing.
	ErrEmptyText = errors.New("text cannot be empty")
)

// Client talks to the sidecar. It implements core.SynthesisLoader.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// LoadRequest asks the sidecar to instantiate a component.
type LoadRequest struct {
	ModelID string `json:"model_id"`
	Kind    string `json:"kind"`
	Device  string `json:"device,omitempty"`
	DType   string `json:"dtype,omitempty"`
}

// LoadResponse identifies a loaded component.
type LoadResponse struct {
	Handle       string `json:"handle"`
	SamplingRate int    `json:"sampling_rate,omitempty"`
}

// TokenizeRequest encodes text with a tokenizer or processor.
type TokenizeRequest struct {
	Handle string `json:"handle"`
	Text   string `json:"text"`
}

// TokenizeResponse carries the encoded batch.
type TokenizeResponse struct {
	InputIDs      [][]int64 `json:"input_ids"`
	AttentionMask [][]int64 `json:"attention_mask"`
}

// WaveformRequest runs a VITS style model.
type WaveformRequest struct {
	Handle        string    `json:"handle"`
	InputIDs      [][]int64 `json:"input_ids"`
	AttentionMask [][]int64 `json:"attention_mask,omitempty"`
}

// WaveformResponse holds one waveform per batch row.
type WaveformResponse struct {
	Waveform [][]float32 `json:"waveform"`
}

// SpeechRequest runs a spectrogram model followed by a vocoder.
type SpeechRequest struct {
	Handle            string    `json:"handle"`
	Vocoder           string    `json:"vocoder"`
	InputIDs          []int64   `json:"input_ids"`
	SpeakerEmbeddings []float32 `json:"speaker_embeddings"`
}

// SpeechResponse holds the generated waveform.
type SpeechResponse struct {
	Speech []float32 `json:"speech"`
}

// ErrorResponse is the structured error body returned by the sidecar.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewClient creates a client for the sidecar at baseURL (for example
// "http://127.0.0.1:8700"). The timeout applies to every request, including
// component loads that may download weights.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// HealthCheck verifies that the sidecar is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	url := c.baseURL + apiHealth

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// LoadComponent instantiates a component and returns its handle.
func (c *Client) LoadComponent(ctx context.Context, req LoadRequest) (LoadResponse, error) {
	var loaded LoadResponse

	err := c.post(ctx, apiLoadComponent, req, &loaded)
	if err != nil {
		return LoadResponse{}, fmt.Errorf("load %s %s: %w", req.Kind, req.ModelID, err)
	}

	if loaded.Handle == "" {
		return LoadResponse{}, fmt.Errorf("load %s %s: %w", req.Kind, req.ModelID, ErrMissingHandle)
	}

	return loaded, nil
}

// LoadTokenizer implements core.SynthesisLoader.
func (c *Client) LoadTokenizer(ctx context.Context, modelID string) (core.Tokenizer, error) {
	loaded, err := c.LoadComponent(ctx, LoadRequest{ModelID: modelID, Kind: KindTokenizer})
	if err != nil {
		return nil, err
	}

	return &textEncoder{client: c, handle: loaded.Handle}, nil
}

// LoadWaveformModel implements core.SynthesisLoader.
func (c *Client) LoadWaveformModel(ctx context.Context, modelID string, dev device.Selection) (core.WaveformModel, error) {
	loaded, err := c.LoadComponent(ctx, onDevice(modelID, KindVITS, dev))
	if err != nil {
		return nil, err
	}

	if loaded.SamplingRate <= 0 {
		return nil, fmt.Errorf("load %s %s: %w", KindVITS, modelID, ErrMissingSampleRate)
	}

	return &waveformModel{client: c, handle: loaded.Handle, sampleRate: loaded.SamplingRate}, nil
}

// LoadSpeechProcessor implements core.SynthesisLoader.
func (c *Client) LoadSpeechProcessor(ctx context.Context, modelID string) (core.SpeechProcessor, error) {
	loaded, err := c.LoadComponent(ctx, LoadRequest{ModelID: modelID, Kind: KindSpeechT5Processor})
	if err != nil {
		return nil, err
	}

	return &textEncoder{client: c, handle: loaded.Handle}, nil
}

// LoadSpectrogramModel implements core.SynthesisLoader.
func (c *Client) LoadSpectrogramModel(ctx context.Context, modelID string, dev device.Selection) (core.SpectrogramModel, error) {
	loaded, err := c.LoadComponent(ctx, onDevice(modelID, KindSpeechT5, dev))
	if err != nil {
		return nil, err
	}

	return &spectrogramModel{client: c, handle: loaded.Handle}, nil
}

// LoadVocoder implements core.SynthesisLoader.
func (c *Client) LoadVocoder(ctx context.Context, modelID string, dev device.Selection) (core.Vocoder, error) {
	loaded, err := c.LoadComponent(ctx, onDevice(modelID, KindSpeechT5HiFiGAN, dev))
	if err != nil {
		return nil, err
	}

	return vocoder(loaded.Handle), nil
}

func onDevice(modelID, kind string, dev device.Selection) LoadRequest {
	return LoadRequest{ModelID: modelID, Kind: kind, Device: dev.Name, DType: dev.Precision}
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	requestBody, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + path

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to inference service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp)
	}

	err = sonic.ConfigStd.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	return nil
}

// parseErrorResponse decodes a structured error and falls back to the raw
// body when the sidecar did not send JSON.
func parseErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, readErr.Error())
	}

	var errorResp ErrorResponse

	err := sonic.ConfigStd.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(bytes.TrimSpace(body)))
}
