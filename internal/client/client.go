// Package client drives a speech worker process over its stdin/stdout
// protocol.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/book-expert/speech-worker/internal/protocol"
)

const maxLineBytes = 64 * 1024 * 1024

var (
	// ErrNotReady is returned when the worker's first line is not a ready
	// announcement.
	ErrNotReady = errors.New("worker did not announce readiness")
	// ErrUnexpectedStatus is returned for a response line with an unknown
	// status.
	ErrUnexpectedStatus = errors.New("unexpected response status")
	// ErrDesynchronized is returned after a call was abandoned mid-response;
	// the next line on the stream would belong to the abandoned request.
	ErrDesynchronized = errors.New("client abandoned a response and is no longer usable")
)

// WorkerError is a failed request as reported by the worker.
type WorkerError struct {
	Message   string
	Traceback string
}

func (e *WorkerError) Error() string {
	return "worker: " + e.Message
}

// Client sends one request at a time and waits for its answer.
type Client struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	device  string
	broken  bool

	// OnLoading is called for every loading announcement that precedes a
	// response. It may be nil.
	OnLoading func(task, model string)
}

// Start launches the worker binary and waits for it to become ready. The
// worker's stderr is passed through.
func Start(ctx context.Context, path string, args ...string) (*Client, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}

	err = cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("failed to start worker %s: %w", path, err)
	}

	client, err := New(stdin, stdout)
	if err != nil {
		_ = stdin.Close()
		_ = cmd.Wait()

		return nil, err
	}

	client.cmd = cmd

	return client, nil
}

// New speaks the protocol over existing streams and consumes the ready
// line.
func New(stdin io.WriteCloser, stdout io.Reader) (*Client, error) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineBytes)

	client := &Client{stdin: stdin, scanner: scanner}

	ready, err := client.readLine()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}

	if ready.Status != protocol.StatusReady {
		return nil, fmt.Errorf("%w: got status %q", ErrNotReady, ready.Status)
	}

	client.device = ready.Device

	return client, nil
}

// Device is the compute device the worker announced.
func (c *Client) Device() string {
	return c.device
}

// Call sends req and returns the terminal response. Loading lines are passed
// to OnLoading. A worker-side failure is returned as a *WorkerError together
// with the response.
func (c *Client) Call(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		return protocol.Response{}, ErrDesynchronized
	}

	line, err := sonic.ConfigStd.Marshal(req)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("failed to encode request: %w", err)
	}

	_, err = c.stdin.Write(append(line, '\n'))
	if err != nil {
		return protocol.Response{}, fmt.Errorf("failed to send request: %w", err)
	}

	type outcome struct {
		resp protocol.Response
		err  error
	}

	done := make(chan outcome, 1)

	go func() {
		resp, readErr := c.await()
		done <- outcome{resp: resp, err: readErr}
	}()

	select {
	case <-ctx.Done():
		c.broken = true

		return protocol.Response{}, fmt.Errorf("request %q abandoned: %w", req.Task, ctx.Err())
	case result := <-done:
		return result.resp, result.err
	}
}

func (c *Client) await() (protocol.Response, error) {
	for {
		resp, err := c.readLine()
		if err != nil {
			return protocol.Response{}, err
		}

		switch resp.Status {
		case protocol.StatusLoading:
			if c.OnLoading != nil {
				c.OnLoading(resp.Task, resp.Model)
			}
		case protocol.StatusSuccess:
			return resp, nil
		case protocol.StatusError:
			return resp, &WorkerError{Message: resp.Error, Traceback: resp.Traceback}
		default:
			return resp, fmt.Errorf("%w: %q", ErrUnexpectedStatus, resp.Status)
		}
	}
}

func (c *Client) readLine() (protocol.Response, error) {
	if !c.scanner.Scan() {
		err := c.scanner.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}

		return protocol.Response{}, fmt.Errorf("failed to read worker output: %w", err)
	}

	var resp protocol.Response

	err := sonic.ConfigStd.Unmarshal(c.scanner.Bytes(), &resp)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("failed to decode worker output: %w", err)
	}

	return resp, nil
}

// Transcribe runs an stt request. An empty model selects the worker default.
func (c *Client) Transcribe(ctx context.Context, audioPath, model string, params protocol.Params) (protocol.Response, error) {
	return c.Call(ctx, protocol.Request{Task: "stt", Model: model, Input: audioPath, Params: params})
}

// Synthesize runs a tts request. An empty model selects the worker default.
func (c *Client) Synthesize(ctx context.Context, text, model string, params protocol.Params) (protocol.Response, error) {
	return c.Call(ctx, protocol.Request{Task: "tts", Model: model, Input: text, Params: params})
}

// Info asks for the worker state.
func (c *Client) Info(ctx context.Context) (protocol.Response, error) {
	return c.Call(ctx, protocol.Request{Task: "info"})
}

// Close ends the session by closing the worker's stdin and, for a started
// worker, waits for it to exit.
func (c *Client) Close() error {
	closeErr := c.stdin.Close()

	if c.cmd == nil {
		if closeErr != nil {
			return fmt.Errorf("failed to close worker input: %w", closeErr)
		}

		return nil
	}

	waitErr := c.cmd.Wait()
	if waitErr != nil {
		return fmt.Errorf("worker exited: %w", waitErr)
	}

	return nil
}
