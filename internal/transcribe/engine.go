package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"whisper-desk/internal/domain"
)

// Options are the per-call knobs the inference capability accepts. It offers
// no progress API and no cancellation hook beyond these.
type Options struct {
	Language    string
	Accelerated bool
}

// Request carries one file through the opaque inference call. Stdout and
// Stderr receive whatever free-form diagnostic text the capability emits
// while it runs; Stderr is the channel that carries progress-shaped output.
type Request struct {
	InputPath string
	Options   Options
	Stdout    io.Writer
	Stderr    io.Writer
}

// Engine is the black-box speech-to-text capability.
type Engine interface {
	Transcribe(ctx context.Context, req Request) (domain.Transcription, error)
}

// EngineError is a stage-aware transcription failure.
type EngineError struct {
	Op      string
	Message string
	Err     error
}

// Error formats engine failures for logs and UI.
func (e *EngineError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *EngineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// commandRunner abstracts process execution for testability. Unlike a
// captured-buffer runner, diagnostics stream to the provided writers while
// the process runs so progress can be observed live.
type commandRunner interface {
	Run(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) error
}

// execRunner executes commands via os/exec with streaming output.
type execRunner struct{}

// Run wires the writers directly into the child process. A write error from
// either writer aborts the output copy, which closes the pipe and stops the
// child on its next diagnostic write.
func (execRunner) Run(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// CLIEngine runs whisper.cpp as a subprocess. The loaded model is implied by
// the configured model file; one CLIEngine instance stands for one loaded
// (model, device) pair and is reused across files and jobs until the pair
// changes.
type CLIEngine struct {
	binary    string
	modelPath string
	runner    commandRunner
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	readFile  func(name string) ([]byte, error)
}

// NewCLIEngine validates the model file and constructs the engine. A missing
// or unreadable model is the engine-construction analog of a failed model
// load and aborts before any file is processed.
func NewCLIEngine(modelPath string) (*CLIEngine, error) {
	engine := &CLIEngine{
		binary:    "whisper.cpp",
		modelPath: modelPath,
		runner:    execRunner{},
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		readFile:  os.ReadFile,
	}

	if strings.TrimSpace(modelPath) == "" {
		return nil, &EngineError{Op: "load", Message: "model path is required"}
	}
	info, err := os.Stat(modelPath)
	if err != nil {
		return nil, &EngineError{
			Op:      "load",
			Message: fmt.Sprintf("cannot access model file: %s", modelPath),
			Err:     err,
		}
	}
	if info.IsDir() {
		return nil, &EngineError{
			Op:      "load",
			Message: fmt.Sprintf("model path is a directory: %s", modelPath),
		}
	}
	return engine, nil
}

// Transcribe runs one inference call. Diagnostics stream to req.Stdout and
// req.Stderr while the call runs; the segment JSON is read back from a
// temporary sidecar file afterwards.
func (e *CLIEngine) Transcribe(ctx context.Context, req Request) (domain.Transcription, error) {
	if strings.TrimSpace(req.InputPath) == "" {
		return domain.Transcription{}, &EngineError{Op: "transcribe", Message: "input path is required"}
	}

	tempDir, err := e.mkdirTemp("", "whisper-desk-*")
	if err != nil {
		return domain.Transcription{}, &EngineError{
			Op:      "transcribe",
			Message: "failed to create temporary workspace",
			Err:     err,
		}
	}
	defer func() { _ = e.removeAll(tempDir) }()

	outBase := filepath.Join(tempDir, "result")
	args := buildWhisperArgs(e.modelPath, req.InputPath, outBase, req.Options)

	if runErr := e.runner.Run(ctx, req.Stdout, req.Stderr, e.binary, args...); runErr != nil {
		return domain.Transcription{}, runErr
	}

	data, err := e.readFile(outBase + ".json")
	if err != nil {
		return domain.Transcription{}, &EngineError{
			Op:      "transcribe",
			Message: "inference completed but segment output is missing",
			Err:     err,
		}
	}

	result, err := parseCLIOutput(data)
	if err != nil {
		return domain.Transcription{}, &EngineError{
			Op:      "transcribe",
			Message: "cannot parse segment output",
			Err:     err,
		}
	}
	return result, nil
}

// buildWhisperArgs builds whisper.cpp args for JSON segment export with
// progress lines on stderr.
func buildWhisperArgs(modelPath, inputPath, outBase string, opts Options) []string {
	args := []string{
		"-m", modelPath,
		"-f", inputPath,
		"-of", outBase,
		"-oj",
		"--print-progress",
	}
	if !opts.Accelerated {
		args = append(args, "-ng")
	}
	if lang := normalizeLanguage(opts.Language); lang != "" {
		args = append(args, "-l", lang)
	}
	return args
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// cliOutput mirrors whisper.cpp's -oj JSON layout, offsets in milliseconds.
type cliOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseCLIOutput converts sidecar JSON into the domain transcription.
func parseCLIOutput(data []byte) (domain.Transcription, error) {
	var out cliOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return domain.Transcription{}, err
	}

	var text strings.Builder
	segments := make([]domain.Segment, 0, len(out.Transcription))
	for _, entry := range out.Transcription {
		segments = append(segments, domain.Segment{
			Start: float64(entry.Offsets.From) / 1000,
			End:   float64(entry.Offsets.To) / 1000,
			Text:  entry.Text,
		})
		text.WriteString(entry.Text)
	}

	return domain.Transcription{
		Text:     text.String(),
		Segments: segments,
	}, nil
}

// NewCLIEngineForTests constructs an engine with injectable dependencies and
// no model file validation.
func NewCLIEngineForTests(
	binary string,
	modelPath string,
	runner commandRunner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	readFile func(name string) ([]byte, error),
) *CLIEngine {
	return &CLIEngine{
		binary:    binary,
		modelPath: modelPath,
		runner:    runner,
		mkdirTemp: mkdirTemp,
		removeAll: removeAll,
		readFile:  readFile,
	}
}
