package protocol_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-worker/internal/core"
	"github.com/book-expert/speech-worker/internal/protocol"
)

var errWeights = errors.New("bad weights")

func TestDecodeRequest(t *testing.T) {
	t.Parallel()

	req, err := protocol.DecodeRequest([]byte(`  {"task":"stt","model":"m","input":"/a.wav","params":{"language":"en"}}  `))
	require.NoError(t, err)
	assert.Equal(t, "stt", req.Task)
	assert.Equal(t, "m", req.Model)
	assert.Equal(t, "/a.wav", req.Input)
	assert.Equal(t, "en", req.Params["language"])
}

func TestDecodeRequest_MissingFieldsDefault(t *testing.T) {
	t.Parallel()

	req, err := protocol.DecodeRequest([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, req.Task)
	assert.Empty(t, req.Model)
	assert.NotNil(t, req.Params)
}

func TestDecodeRequest_Rejects(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		line string
	}{
		{name: "truncated object", line: `{"task":`},
		{name: "not json", line: `hello`},
		{name: "array", line: `[1,2]`},
		{name: "number", line: `42`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := protocol.DecodeRequest([]byte(tc.line))
			require.Error(t, err)
		})
	}

	_, err := protocol.DecodeRequest([]byte(`"text"`))
	require.ErrorIs(t, err, protocol.ErrNotObject)

	_, err = protocol.DecodeRequest([]byte(`[1,2]`))
	require.ErrorIs(t, err, protocol.ErrNotObject)
}

func TestDecodeRequest_SyntaxErrorIsOneLine(t *testing.T) {
	t.Parallel()

	_, err := protocol.DecodeRequest([]byte(`{"task":"info",}`))

	var parseErr *protocol.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.NotEmpty(t, err.Error())
	assert.NotContains(t, err.Error(), "\n")
	assert.NotContains(t, err.Error(), `\n`)
}

func TestDecodeRequest_MistypedFieldsStillDecode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		line  string
		task  string
		model string
		input string
	}{
		{name: "numeric input", line: `{"task":"info","input":123}`, task: "info", input: "123"},
		{name: "numeric task", line: `{"task":5}`, task: "5"},
		{name: "boolean model", line: `{"task":"stt","model":true}`, task: "stt", model: "true"},
		{name: "null fields", line: `{"task":null,"model":null,"input":null}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req, err := protocol.DecodeRequest([]byte(tc.line))
			require.NoError(t, err)
			assert.Equal(t, tc.task, req.Task)
			assert.Equal(t, tc.model, req.Model)
			assert.Equal(t, tc.input, req.Input)
			require.NoError(t, req.ParamsErr())
			assert.NotNil(t, req.Params)
		})
	}
}

func TestDecodeRequest_NonObjectParams(t *testing.T) {
	t.Parallel()

	req, err := protocol.DecodeRequest([]byte(`{"task":"stt","params":[1,2]}`))
	require.NoError(t, err)
	assert.Equal(t, "stt", req.Task)
	assert.Empty(t, req.Params)
	require.ErrorIs(t, req.ParamsErr(), protocol.ErrParamType)

	req, err = protocol.DecodeRequest([]byte(`{"task":"stt","params":null}`))
	require.NoError(t, err)
	require.NoError(t, req.ParamsErr())
	assert.NotNil(t, req.Params)
}

func TestParams_Accessors(t *testing.T) {
	t.Parallel()

	params := protocol.Params{
		"language":       "fr",
		"timestamps":     true,
		"timestamps_str": "true",
		"chunk":          15.5,
		"batch":          float64(4),
		"batch_str":      "16",
		"null_value":     nil,
		"fraction":       2.5,
	}

	language, err := params.String("language", "")
	require.NoError(t, err)
	assert.Equal(t, "fr", language)

	missing, err := params.String("absent", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", missing)

	nullValue, err := params.String("null_value", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", nullValue)

	timestamps, err := params.Bool("timestamps", false)
	require.NoError(t, err)
	assert.True(t, timestamps)

	timestampsStr, err := params.Bool("timestamps_str", false)
	require.NoError(t, err)
	assert.True(t, timestampsStr)

	chunk, err := params.Float("chunk", 30)
	require.NoError(t, err)
	assert.InDelta(t, 15.5, chunk, 1e-9)

	batch, err := params.Int("batch", 8)
	require.NoError(t, err)
	assert.Equal(t, 4, batch)

	batchStr, err := params.Int("batch_str", 8)
	require.NoError(t, err)
	assert.Equal(t, 16, batchStr)

	_, err = params.Int("fraction", 1)
	require.ErrorIs(t, err, protocol.ErrParamType)

	_, err = params.String("chunk", "")
	require.ErrorIs(t, err, protocol.ErrParamType)

	_, err = params.Bool("language", false)
	require.ErrorIs(t, err, protocol.ErrParamType)
}

func TestResult_Response(t *testing.T) {
	t.Parallel()

	ok := protocol.OK(protocol.InfoResponse{Status: protocol.StatusSuccess})
	assert.True(t, ok.IsOK())
	assert.Equal(t, protocol.InfoResponse{Status: protocol.StatusSuccess}, ok.Response())

	invalid := protocol.Invalid("Audio file not found: %s", "/x.wav")
	assert.False(t, invalid.IsOK())
	assert.Equal(t, protocol.KindValidation, invalid.Kind())
	assert.Equal(t, protocol.ErrorResponse{
		Status: protocol.StatusError,
		Error:  "Audio file not found: /x.wav",
	}, invalid.Response())
}

func TestFromError_KeepsChain(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("load tts model: %w", fmt.Errorf("fetch components: %w", errWeights))
	result := protocol.FromError(wrapped)

	assert.Equal(t, protocol.KindBackend, result.Kind())
	assert.Equal(t, "load tts model: fetch components: bad weights", result.Message())
	assert.Contains(t, result.Diagnostic(), "fetch components: bad weights")
	assert.Contains(t, result.Diagnostic(), "*errors.errorString: bad weights")
}

func TestDiagnose_JoinedErrors(t *testing.T) {
	t.Parallel()

	diagnostic := protocol.Diagnose(errors.Join(errWeights, errors.New("second")))
	assert.Contains(t, diagnostic, "bad weights")
	assert.Contains(t, diagnostic, "second")
}

func TestFromPanic(t *testing.T) {
	t.Parallel()

	result := protocol.FromPanic("boom", []byte("goroutine 1 [running]"))
	assert.Equal(t, "boom", result.Message())
	assert.Contains(t, result.Diagnostic(), "goroutine 1")
	assert.Equal(t, "backend", result.Kind().String())
}

func TestEmitter_OneLinePerMessage(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	emitter := protocol.NewEmitter(&out)
	require.NoError(t, emitter.Ready("cpu"))
	require.NoError(t, emitter.Loading("stt", "openai/whisper-tiny"))
	require.NoError(t, emitter.Result(protocol.OK(protocol.TranscriptionResponse{
		Status: protocol.StatusSuccess,
		Text:   "hello",
		Model:  "openai/whisper-tiny",
		Chunks: []core.Chunk{{Text: "hello", Timestamp: []float64{0, 1.5}}},
	})))
	require.NoError(t, emitter.Result(protocol.Invalid("nope")))

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)

	decoded := make([]map[string]any, len(lines))
	for i, line := range lines {
		require.NoError(t, json.Unmarshal([]byte(line), &decoded[i]))
	}

	assert.Equal(t, map[string]any{"status": "ready", "device": "cpu"}, decoded[0])
	assert.Equal(t, map[string]any{"status": "loading", "task": "stt", "model": "openai/whisper-tiny"}, decoded[1])
	assert.Equal(t, "hello", decoded[2]["text"])
	assert.NotNil(t, decoded[2]["chunks"])
	assert.Equal(t, map[string]any{"status": "error", "error": "nope"}, decoded[3])
}

func TestEmitter_OmitsEmptyChunks(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	emitter := protocol.NewEmitter(&out)
	require.NoError(t, emitter.Emit(protocol.TranscriptionResponse{Status: protocol.StatusSuccess, Text: "hi", Model: "m"}))
	assert.NotContains(t, out.String(), "chunks")
}
