// Package worker_test tests the stdio request loop.
package worker_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-worker/internal/cache"
	"github.com/book-expert/speech-worker/internal/core"
	"github.com/book-expert/speech-worker/internal/device"
	"github.com/book-expert/speech-worker/internal/dispatch"
	"github.com/book-expert/speech-worker/internal/protocol"
	"github.com/book-expert/speech-worker/internal/stt"
	"github.com/book-expert/speech-worker/internal/tts"
	"github.com/book-expert/speech-worker/internal/worker"
)

var (
	errMockBackend = errors.New("mock backend failure")
	errMockWrite   = errors.New("mock broken pipe")
)

// mockDispatcher answers by task name so a single script can exercise every
// outcome.
type mockDispatcher struct {
	requests []protocol.Request
}

func (m *mockDispatcher) Dispatch(_ context.Context, req protocol.Request) (protocol.Result, error) {
	m.requests = append(m.requests, req)

	switch req.Task {
	case "ok":
		return protocol.OK(map[string]any{"status": "success", "echo": req.Input}), nil
	case "invalid":
		return protocol.Invalid("nope: %s", req.Input), nil
	case "fail":
		return protocol.Result{}, errMockBackend
	case "panic":
		var params map[string]int
		params["boom"]++

		return protocol.Result{}, nil
	default:
		return protocol.Invalid("unexpected task %s", req.Task), nil
	}
}

type failingWriter struct {
	allowed int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.allowed <= 0 {
		return 0, errMockWrite
	}

	f.allowed--

	return len(p), nil
}

func newLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	return log
}

func cpu() device.Selection {
	return device.Selection{Name: device.CPU, Precision: device.Float32}
}

func runScript(t *testing.T, dispatcher worker.Dispatcher, script string) []map[string]any {
	t.Helper()

	var out bytes.Buffer

	w := worker.New(dispatcher, protocol.NewEmitter(&out), cpu(), newLogger(t))
	require.NoError(t, w.Run(context.Background(), strings.NewReader(script)))

	var responses []map[string]any

	for _, line := range strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n") {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &decoded), line)
		responses = append(responses, decoded)
	}

	return responses
}

func TestRun_ReadyFirstThenOneLinePerRequest(t *testing.T) {
	t.Parallel()

	dispatcher := &mockDispatcher{}
	responses := runScript(t, dispatcher, "{\"task\":\"ok\",\"input\":\"a\"}\n{\"task\":\"ok\",\"input\":\"b\"}\n")

	require.Len(t, responses, 3)
	assert.Equal(t, map[string]any{"status": "ready", "device": "cpu"}, responses[0])
	assert.Equal(t, "a", responses[1]["echo"])
	assert.Equal(t, "b", responses[2]["echo"])
}

func TestRun_EmptyInputOnlyReady(t *testing.T) {
	t.Parallel()

	responses := runScript(t, &mockDispatcher{}, "")
	require.Len(t, responses, 1)
	assert.Equal(t, "ready", responses[0]["status"])
}

func TestRun_BlankLinesProduceNoOutput(t *testing.T) {
	t.Parallel()

	dispatcher := &mockDispatcher{}
	responses := runScript(t, dispatcher, "\n   \n\t\n{\"task\":\"ok\"}\n\n")

	require.Len(t, responses, 2)
	assert.Len(t, dispatcher.requests, 1)
}

func TestRun_FinalLineWithoutNewline(t *testing.T) {
	t.Parallel()

	responses := runScript(t, &mockDispatcher{}, `{"task":"ok","input":"last"}`)
	require.Len(t, responses, 2)
	assert.Equal(t, "last", responses[1]["echo"])
}

func TestRun_MalformedJSONContinues(t *testing.T) {
	t.Parallel()

	dispatcher := &mockDispatcher{}
	responses := runScript(t, dispatcher, "{\"task\":\n[1,2]\n{\"task\":\"ok\"}\n")

	require.Len(t, responses, 4)

	for _, response := range responses[1:3] {
		assert.Equal(t, "error", response["status"])
		assert.True(t, strings.HasPrefix(response["error"].(string), "JSON parse error: "), response["error"])
		assert.NotContains(t, response, "traceback")
	}

	assert.Equal(t, "success", responses[3]["status"])
	assert.Len(t, dispatcher.requests, 1)
}

func TestRun_ValidationErrorHasNoTraceback(t *testing.T) {
	t.Parallel()

	responses := runScript(t, &mockDispatcher{}, "{\"task\":\"invalid\",\"input\":\"x\"}\n")

	require.Len(t, responses, 2)
	assert.Equal(t, map[string]any{"status": "error", "error": "nope: x"}, responses[1])
}

func TestRun_BackendErrorCarriesTraceback(t *testing.T) {
	t.Parallel()

	responses := runScript(t, &mockDispatcher{}, "{\"task\":\"fail\"}\n{\"task\":\"ok\"}\n")

	require.Len(t, responses, 3)
	assert.Equal(t, "error", responses[1]["status"])
	assert.Equal(t, "mock backend failure", responses[1]["error"])
	assert.Contains(t, responses[1]["traceback"], "mock backend failure")
	assert.Equal(t, "success", responses[2]["status"])
}

func TestRun_PanicIsRecovered(t *testing.T) {
	t.Parallel()

	responses := runScript(t, &mockDispatcher{}, "{\"task\":\"panic\"}\n{\"task\":\"ok\"}\n")

	require.Len(t, responses, 3)
	assert.Equal(t, "error", responses[1]["status"])
	assert.Contains(t, responses[1]["error"], "nil map")
	assert.Contains(t, responses[1]["traceback"], "goroutine")
	assert.Equal(t, "success", responses[2]["status"])
}

func TestRun_WriteFailureStopsLoop(t *testing.T) {
	t.Parallel()

	dispatcher := &mockDispatcher{}
	w := worker.New(dispatcher, protocol.NewEmitter(&failingWriter{allowed: 1}), cpu(), newLogger(t))

	err := w.Run(context.Background(), strings.NewReader("{\"task\":\"ok\"}\n{\"task\":\"ok\"}\n"))
	require.ErrorIs(t, err, worker.ErrOutputClosed)
	require.ErrorIs(t, err, errMockWrite)
	assert.Len(t, dispatcher.requests, 1)
}

func TestRun_ReadyWriteFailure(t *testing.T) {
	t.Parallel()

	w := worker.New(&mockDispatcher{}, protocol.NewEmitter(&failingWriter{}), cpu(), newLogger(t))

	err := w.Run(context.Background(), strings.NewReader(""))
	require.ErrorIs(t, err, worker.ErrOutputClosed)
}

type unusedLoader struct{}

func (unusedLoader) LoadRecognizer(context.Context, string, device.Selection) (core.Recognizer, error) {
	return nil, errMockBackend
}

type unusedNotifier struct{}

func (unusedNotifier) Loading(string, string) error { return nil }

type unusedSynthesizer struct{}

func (unusedSynthesizer) Synthesize(context.Context, *cache.Cache[*tts.Context], string, string, protocol.Params) (protocol.Result, error) {
	return protocol.Result{}, errMockBackend
}

func TestRun_EndToEndWithDispatcher(t *testing.T) {
	t.Parallel()

	log := newLogger(t)
	transcriber := stt.NewProvider(unusedLoader{}, unusedNotifier{}, cpu(), log)
	dispatcher := dispatch.New(transcriber, unusedSynthesizer{}, cpu())

	script := strings.Join([]string{
		`{"task":"info"}`,
		`{"task":"stt","input":"/no/such/file.wav"}`,
		`{"task":"unknown"}`,
		`not json`,
		`{"task":"info"}`,
	}, "\n")

	responses := runScript(t, dispatcher, script)
	require.Len(t, responses, 6)

	assert.Equal(t, map[string]any{
		"status":      "success",
		"device":      "cpu",
		"torch_dtype": "torch.float32",
		"stt_default": "openai/whisper-tiny",
		"tts_default": "facebook/mms-tts-eng",
		"loaded_stt":  []any{},
		"loaded_tts":  []any{},
	}, responses[1])
	assert.Equal(t, map[string]any{"status": "error", "error": "Audio file not found: /no/such/file.wav"}, responses[2])
	assert.Equal(t, map[string]any{"status": "error", "error": "Unknown task 'unknown'. Valid tasks: stt, tts, info."}, responses[3])
	assert.Equal(t, "error", responses[4]["status"])
	assert.Equal(t, responses[1], responses[5])
}

func TestRun_MistypedFieldsReachDispatcher(t *testing.T) {
	t.Parallel()

	log := newLogger(t)
	transcriber := stt.NewProvider(unusedLoader{}, unusedNotifier{}, cpu(), log)
	dispatcher := dispatch.New(transcriber, unusedSynthesizer{}, cpu())

	script := strings.Join([]string{
		`{"task":"info","input":123}`,
		`{"task":5}`,
		`{"task":"stt","input":"/a.wav","params":[1]}`,
		`{"task":"info",}`,
	}, "\n")

	responses := runScript(t, dispatcher, script)
	require.Len(t, responses, 5)

	assert.Equal(t, "success", responses[1]["status"])
	assert.Equal(t, "torch.float32", responses[1]["torch_dtype"])
	assert.Equal(t, map[string]any{"status": "error", "error": "Unknown task '5'. Valid tasks: stt, tts, info."}, responses[2])

	assert.Equal(t, "error", responses[3]["status"])
	assert.Contains(t, responses[3]["error"], "params must be an object")
	assert.NotEmpty(t, responses[3]["traceback"])

	assert.Equal(t, "error", responses[4]["status"])
	assert.True(t, strings.HasPrefix(responses[4]["error"].(string), "JSON parse error: "))
	assert.NotContains(t, responses[4]["error"], `\n`)
	assert.NotContains(t, responses[4], "traceback")
}
