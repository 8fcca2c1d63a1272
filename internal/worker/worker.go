// Package worker runs the request loop: one JSON request per input line, one
// JSON response per output line.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-worker/internal/device"
	"github.com/book-expert/speech-worker/internal/fsutil"
	"github.com/book-expert/speech-worker/internal/protocol"
)

const errFmtParse = "JSON parse error: %s"

// ErrOutputClosed is returned by Run when a response cannot be written. The
// parent has gone away and there is no one left to answer.
var ErrOutputClosed = errors.New("output stream closed")

// Dispatcher executes a decoded request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req protocol.Request) (protocol.Result, error)
}

// StdioWorker reads requests from a stream and answers on an Emitter. It
// processes one request at a time.
type StdioWorker struct {
	dispatcher Dispatcher
	emitter    *protocol.Emitter
	device     device.Selection
	log        *logger.Logger
}

// New creates a worker.
func New(
	dispatcher Dispatcher,
	emitter *protocol.Emitter,
	dev device.Selection,
	log *logger.Logger,
) *StdioWorker {
	return &StdioWorker{
		dispatcher: dispatcher,
		emitter:    emitter,
		device:     dev,
		log:        log,
	}
}

// Run announces readiness and serves requests until input reaches EOF. A
// final line without a trailing newline is still served.
func (w *StdioWorker) Run(ctx context.Context, input io.Reader) error {
	readyErr := w.emitter.Ready(w.device.Name)
	if readyErr != nil {
		return fmt.Errorf("%w: %w", ErrOutputClosed, readyErr)
	}

	w.log.Info("Speech worker ready on %s (%s)", w.device.Name, w.device.Precision)

	reader := bufio.NewReader(input)

	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			handleErr := w.handleLine(ctx, line)
			if handleErr != nil {
				return handleErr
			}
		}

		if errors.Is(readErr, io.EOF) {
			w.log.Info("Input closed, speech worker exiting")

			return nil
		}

		if readErr != nil {
			return fmt.Errorf("failed to read request: %w", readErr)
		}
	}
}

func (w *StdioWorker) handleLine(ctx context.Context, line string) error {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	req, decodeErr := protocol.DecodeRequest([]byte(trimmed))
	if decodeErr != nil {
		w.log.Warn("Rejected malformed request line: %v", decodeErr)

		return w.emit(protocol.Fail(protocol.KindProtocol, fmt.Sprintf(errFmtParse, decodeErr), ""))
	}

	start := time.Now()
	result := w.dispatchSafely(ctx, req)
	elapsed := fsutil.FormatDuration(time.Since(start))

	if result.IsOK() {
		w.log.Info("Handled %q request (model %q) in %s", req.Task, req.Model, elapsed)
	} else {
		w.log.Error("Failed %q request (model %q) after %s: %s error: %s",
			req.Task, req.Model, elapsed, result.Kind(), result.Message())
	}

	return w.emit(result)
}

// dispatchSafely is the fault boundary: any error or panic beneath it becomes
// an error response.
func (w *StdioWorker) dispatchSafely(ctx context.Context, req protocol.Request) (result protocol.Result) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = protocol.FromPanic(recovered, debug.Stack())
		}
	}()

	result, err := w.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return protocol.FromError(err)
	}

	return result
}

func (w *StdioWorker) emit(result protocol.Result) error {
	err := w.emitter.Result(result)
	if err != nil {
		w.log.Error("Failed to write response: %v", err)

		return fmt.Errorf("%w: %w", ErrOutputClosed, err)
	}

	return nil
}
