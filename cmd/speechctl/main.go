// main package for speechctl, a command line client for the speech worker.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/bytedance/sonic"

	"github.com/book-expert/speech-worker/internal/client"
	"github.com/book-expert/speech-worker/internal/protocol"
)

// Caller is the part of the worker client the commands need.
type Caller interface {
	Transcribe(ctx context.Context, audioPath, model string, params protocol.Params) (protocol.Response, error)
	Synthesize(ctx context.Context, text, model string, params protocol.Params) (protocol.Response, error)
	Info(ctx context.Context) (protocol.Response, error)
}

// app carries what every command needs at run time.
type app struct {
	ctx    context.Context
	caller Caller
	out    io.Writer
}

// CLI is the command line grammar.
type CLI struct {
	Worker string `help:"Path to the speech-worker binary." default:"speech-worker" env:"SPEECH_WORKER"`

	STT  STTCmd  `cmd:"" name:"stt" help:"Transcribe an audio file."`
	TTS  TTSCmd  `cmd:"" name:"tts" help:"Synthesize speech to a WAV file."`
	Info InfoCmd `cmd:"" name:"info" help:"Show the worker device and loaded models."`
}

// STTCmd transcribes a file.
type STTCmd struct {
	Audio      string `help:"Audio file to transcribe." required:""`
	Model      string `help:"Recognition model id."`
	Lang       string `help:"Force the transcription language."`
	Timestamps bool   `help:"Print segment timestamps."`
}

// Run executes the command.
func (c *STTCmd) Run(a *app) error {
	params := protocol.Params{"return_timestamps": c.Timestamps}
	if c.Lang != "" {
		params["language"] = c.Lang
	}

	resp, err := a.caller.Transcribe(a.ctx, c.Audio, c.Model, params)
	if err != nil {
		return err
	}

	if !c.Timestamps || len(resp.Chunks) == 0 {
		_, err = fmt.Fprintln(a.out, resp.Text)

		return err
	}

	for _, chunk := range resp.Chunks {
		var start, end float64
		if len(chunk.Timestamp) == 2 {
			start, end = chunk.Timestamp[0], chunk.Timestamp[1]
		}

		_, err = fmt.Fprintf(a.out, "[%7.2f -> %7.2f] %s\n", start, end, chunk.Text)
		if err != nil {
			return err
		}
	}

	return nil
}

// TTSCmd synthesizes text.
type TTSCmd struct {
	Text      string `help:"Text to speak." required:""`
	Model     string `help:"Synthesis model id."`
	Out       string `help:"Output WAV path. Defaults to a temporary file."`
	Speaker   int    `help:"Speaker index for SpeechT5 models. Negative keeps the default." default:"-1"`
	Normalize bool   `help:"Normalize numbers, abbreviations and punctuation first."`
}

// Run executes the command.
func (c *TTSCmd) Run(a *app) error {
	params := protocol.Params{}
	if c.Out != "" {
		params["output_path"] = c.Out
	}

	if c.Speaker >= 0 {
		params["speaker_idx"] = c.Speaker
	}

	if c.Normalize {
		params["normalize_text"] = true
	}

	resp, err := a.caller.Synthesize(a.ctx, c.Text, c.Model, params)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(a.out, "%s (%d Hz, %s)\n", resp.File, resp.SampleRate, resp.Model)

	return err
}

// InfoCmd reports worker state.
type InfoCmd struct{}

// Run executes the command.
func (c *InfoCmd) Run(a *app) error {
	resp, err := a.caller.Info(a.ctx)
	if err != nil {
		return err
	}

	encoded, err := sonic.ConfigStd.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode info: %w", err)
	}

	_, err = fmt.Fprintln(a.out, string(encoded))

	return err
}

func newParser(cli *CLI, stdout, stderr io.Writer, exit func(int)) (*kong.Kong, error) {
	parser, err := kong.New(cli,
		kong.Name("speechctl"),
		kong.Description("Talk to a speech worker over its stdio protocol."),
		kong.Writers(stdout, stderr),
		kong.Exit(exit),
		kong.UsageOnError(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build command line parser: %w", err)
	}

	return parser, nil
}

func run(args []string) error {
	var cli CLI

	parser, err := newParser(&cli, os.Stdout, os.Stderr, os.Exit)
	if err != nil {
		return err
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	worker, err := client.Start(ctx, cli.Worker)
	if err != nil {
		return err
	}

	worker.OnLoading = func(task, model string) {
		fmt.Fprintf(os.Stderr, "loading %s model %s...\n", task, model)
	}

	runErr := kctx.Run(&app{ctx: ctx, caller: worker, out: os.Stdout})
	closeErr := worker.Close()

	if runErr != nil {
		return runErr
	}

	return closeErr
}

func main() {
	err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
