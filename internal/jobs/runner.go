package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"whisper-desk/internal/domain"
	"whisper-desk/internal/progress"
	"whisper-desk/internal/transcribe"
)

// ErrNoFiles is returned when a job is started with an empty file list.
var ErrNoFiles = errors.New("no files selected")

// ErrNoRunningJob is returned when cancelling while no job is active.
var ErrNoRunningJob = errors.New("no running job")

// MissingFilesError lists every selected file that no longer exists.
// Validation is exhaustive rather than fail-fast so the user sees the full
// list before retrying.
type MissingFilesError struct {
	Names []string
}

// Error formats the complete missing-file list.
func (e *MissingFilesError) Error() string {
	return fmt.Sprintf("files no longer exist: %s", strings.Join(e.Names, ", "))
}

// ModelLoadError wraps an engine construction failure. It aborts the job
// before any file is processed.
type ModelLoadError struct {
	Err error
}

// Error formats the load failure with its cause.
func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("model load failed: %v", e.Err)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// EngineFactory builds the inference engine for one settings snapshot. The
// runner caches the built engine and only calls the factory again when the
// model/device key changes.
type EngineFactory func(settings domain.Settings) (transcribe.Engine, error)

// Request describes one batch transcription job. Immutable once running;
// the cancellation flag lives in the runner's per-job context.
type Request struct {
	Files    []string
	Settings domain.Settings
}

// Runner orchestrates batch transcription: validation, cached model load,
// the per-file loop with intercepted diagnostics, result persistence, and
// outcome reporting. Exactly one worker goroutine exists per running job,
// enforced by the Manager's idle/running check.
type Runner struct {
	manager   *Manager
	events    *EventBus
	newEngine EngineFactory
	notify    func(Event)

	stdout io.Writer
	stderr io.Writer
	stat   func(string) (os.FileInfo, error)

	writePlain       func(text, path string) error
	writeTimestamped func(segments []domain.Segment, path string) error
	writeSRT         func(segments []domain.Segment, path string) error

	mu        sync.Mutex
	engine    transcribe.Engine
	engineKey string
	cancelled *atomic.Bool
	done      chan struct{}
}

// NewRunner constructs a runner with OS dependencies.
func NewRunner(manager *Manager, events *EventBus, factory EngineFactory, notify func(Event)) *Runner {
	return &Runner{
		manager:          manager,
		events:           events,
		newEngine:        factory,
		notify:           notify,
		stdout:           os.Stdout,
		stderr:           os.Stderr,
		stat:             os.Stat,
		writePlain:       transcribe.WritePlain,
		writeTimestamped: transcribe.WriteTimestamped,
		writeSRT:         transcribe.WriteSRT,
	}
}

// Start validates the request, claims the single job slot, and launches the
// worker goroutine. Validation errors are synchronous and the job never
// transitions to running on any of them.
func (r *Runner) Start(ctx context.Context, req Request) (domain.Job, error) {
	if r.manager.IsRunning() {
		return domain.Job{}, ErrJobAlreadyRunning
	}
	if len(req.Files) == 0 {
		return domain.Job{}, ErrNoFiles
	}

	var missing []string
	for _, file := range req.Files {
		if _, err := r.stat(file); err != nil {
			missing = append(missing, filepath.Base(file))
		}
	}
	if len(missing) > 0 {
		return domain.Job{}, &MissingFilesError{Names: missing}
	}

	jobID := uuid.NewString()
	if err := r.manager.Start(jobID, len(req.Files)); err != nil {
		return domain.Job{}, err
	}

	flag := &atomic.Bool{}
	done := make(chan struct{})
	r.mu.Lock()
	r.cancelled = flag
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		r.run(ctx, jobID, req, flag)
	}()
	return r.manager.Current(), nil
}

// Cancel requests cancellation of the running job. No new file will start
// once the flag is set; the in-flight inference call stops on its next
// diagnostic write, with no guaranteed latency bound.
func (r *Runner) Cancel() {
	r.mu.Lock()
	flag := r.cancelled
	r.mu.Unlock()
	if flag != nil {
		flag.Store(true)
	}
}

// Wait blocks until the current worker goroutine exits. Used by tests and
// shutdown; returns immediately when no job ran yet.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// run executes the batch on the worker goroutine.
func (r *Runner) run(ctx context.Context, jobID string, req Request, flag *atomic.Bool) {
	engine, err := r.ensureEngine(req.Settings)
	if err != nil {
		loadErr := &ModelLoadError{Err: err}
		r.publishError(jobID, loadErr.Error())
		r.finish(jobID, domain.JobStatusFailed, 0, len(req.Files))
		// No file was touched; return straight to idle so the user can fix
		// the model settings and start again.
		r.manager.Reset()
		return
	}

	total := len(req.Files)
	processed := 0

	for index, inputPath := range req.Files {
		if flag.Load() {
			r.finish(jobID, domain.JobStatusCancelled, processed, total)
			return
		}

		base := progress.Global(index, total, 0)
		r.publishProgress(jobID, base, index, total)
		r.publishStatus(jobID, domain.JobStatusRunning,
			fmt.Sprintf("Transcribing %d/%d: %s", index+1, total, filepath.Base(inputPath)))

		result, err := r.transcribeFile(ctx, engine, req, index, inputPath, flag)
		if err != nil {
			if flag.Load() || errors.Is(err, progress.ErrCancelled) {
				// Partial output for the in-flight file is discarded; output
				// up to the last fully completed file is retained.
				r.finish(jobID, domain.JobStatusCancelled, processed, total)
				return
			}
			r.publishError(jobID, fmt.Sprintf("transcription failed for %s: %v", filepath.Base(inputPath), err))
			r.finish(jobID, domain.JobStatusFailed, processed, total)
			return
		}

		paths, err := r.persistResult(result, inputPath, req.Settings)
		if err != nil {
			r.publishError(jobID, fmt.Sprintf("write transcript for %s: %v", filepath.Base(inputPath), err))
			r.finish(jobID, domain.JobStatusFailed, processed, total)
			return
		}

		processed++
		r.manager.RecordProcessed(processed)
		r.publishProgress(jobID, progress.Global(index+1, total, 0), index, total)
		r.publish(Event{
			JobID:      jobID,
			Type:       EventTypeResult,
			Message:    fmt.Sprintf("Transcript saved: %s", filepath.Base(inputPath)),
			FileIndex:  index,
			TotalFiles: total,
			Paths:      paths,
		})
	}

	r.publishProgress(jobID, 100, total-1, total)
	r.finish(jobID, domain.JobStatusCompleted, processed, total)
}

// transcribeFile wraps one inference call with interceptors for both
// diagnostic channels. Interceptor installation is scoped to this call: the
// engine only ever sees the wrappers through the request, so the original
// channels are untouched on every exit path.
func (r *Runner) transcribeFile(
	ctx context.Context,
	engine transcribe.Engine,
	req Request,
	index int,
	inputPath string,
	flag *atomic.Bool,
) (domain.Transcription, error) {
	total := len(req.Files)
	jobID := r.manager.Current().ID

	stdout := progress.NewInterceptor(r.stdout, flag)
	stderr := progress.NewMonitoredInterceptor(r.stderr, flag, index, total, func(global float64) {
		r.publishProgress(jobID, global, index, total)
	})

	return engine.Transcribe(ctx, transcribe.Request{
		InputPath: inputPath,
		Options: transcribe.Options{
			Language:    req.Settings.Language,
			Accelerated: !strings.EqualFold(req.Settings.Device, "cpu"),
		},
		Stdout: stdout,
		Stderr: stderr,
	})
}

// persistResult writes the transcript files for one input and returns the
// created paths. The output directory defaults to the input's own directory.
func (r *Runner) persistResult(result domain.Transcription, inputPath string, settings domain.Settings) ([]string, error) {
	outputDir := strings.TrimSpace(settings.OutputDir)
	if outputDir == "" {
		outputDir = filepath.Dir(inputPath)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}

	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	plainPath := filepath.Join(outputDir, stem+".txt")
	if err := r.writePlain(result.Text, plainPath); err != nil {
		return nil, err
	}

	timestampedPath := filepath.Join(outputDir, stem+"_timestamps.txt")
	if err := r.writeTimestamped(result.Segments, timestampedPath); err != nil {
		return nil, err
	}

	paths := []string{plainPath, timestampedPath}
	if settings.ExportSRT {
		srtPath := filepath.Join(outputDir, stem+".srt")
		if err := r.writeSRT(result.Segments, srtPath); err != nil {
			return nil, err
		}
		paths = append(paths, srtPath)
	}
	return paths, nil
}

// ensureEngine returns the cached engine when the model/device key is
// unchanged, otherwise builds a new one and replaces the cache. The previous
// instance is discarded on a key switch.
func (r *Runner) ensureEngine(settings domain.Settings) (transcribe.Engine, error) {
	key := strings.Join([]string{settings.ModelID, settings.ModelDir, settings.Device}, "|")

	r.mu.Lock()
	cached := r.engine
	cachedKey := r.engineKey
	r.mu.Unlock()
	if cached != nil && cachedKey == key {
		return cached, nil
	}

	engine, err := r.newEngine(settings)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.engine = engine
	r.engineKey = key
	r.mu.Unlock()
	return engine, nil
}

// finish applies the terminal transition and reports the outcome.
func (r *Runner) finish(jobID string, status domain.JobStatus, processed, total int) {
	r.manager.RecordProcessed(processed)
	_ = r.manager.Transition(status)

	switch status {
	case domain.JobStatusCompleted:
		r.publishStatus(jobID, status, fmt.Sprintf("All %d files transcribed", processed))
	case domain.JobStatusCancelled:
		r.publishStatus(jobID, status,
			fmt.Sprintf("Cancelled; output for the first %d of %d files is retained", processed, total))
	case domain.JobStatusFailed:
		r.publishStatus(jobID, status, "Job failed")
	}
}

// publishStatus sends a normalized status event.
func (r *Runner) publishStatus(jobID string, status domain.JobStatus, message string) {
	r.publish(Event{
		JobID:   jobID,
		Type:    EventTypeStatus,
		Status:  status,
		Message: message,
	})
}

// publishProgress sends a clamped global percentage update.
func (r *Runner) publishProgress(jobID string, percent float64, index, total int) {
	r.publish(Event{
		JobID:      jobID,
		Type:       EventTypeProgress,
		Progress:   progress.Clamp(percent),
		FileIndex:  index,
		TotalFiles: total,
	})
}

// publishError sends an error event.
func (r *Runner) publishError(jobID, message string) {
	r.publish(Event{
		JobID:   jobID,
		Type:    EventTypeError,
		Message: message,
	})
}

// publish stores event history and forwards to the UI notifier.
func (r *Runner) publish(event Event) {
	published := r.events.Publish(event)
	if r.notify != nil {
		r.notify(published)
	}
}
