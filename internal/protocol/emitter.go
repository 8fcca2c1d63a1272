package protocol

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/bytedance/sonic"
)

// Emitter writes one JSON object per line and flushes after every line so the
// parent never waits on buffered output.
type Emitter struct {
	mu  sync.Mutex
	out *bufio.Writer
}

// NewEmitter wraps w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{out: bufio.NewWriter(w)}
}

// Emit encodes v as a single line.
func (e *Emitter) Emit(v any) error {
	encoded, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, err = e.out.Write(append(encoded, '\n'))
	if err != nil {
		return fmt.Errorf("write response: %w", err)
	}

	err = e.out.Flush()
	if err != nil {
		return fmt.Errorf("flush response: %w", err)
	}

	return nil
}

// Ready announces that the worker accepts requests.
func (e *Emitter) Ready(device string) error {
	return e.Emit(ReadyResponse{Status: StatusReady, Device: device})
}

// Loading announces a blocking model load.
func (e *Emitter) Loading(task, model string) error {
	return e.Emit(LoadingResponse{Status: StatusLoading, Task: task, Model: model})
}

// Result writes the response for r.
func (e *Emitter) Result(r Result) error {
	return e.Emit(r.Response())
}
