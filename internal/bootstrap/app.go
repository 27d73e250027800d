package bootstrap

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"whisper-desk/internal/config"
	"whisper-desk/internal/diagnostics"
	"whisper-desk/internal/domain"
	"whisper-desk/internal/jobs"
	"whisper-desk/internal/singleinstance"
	"whisper-desk/internal/transcribe"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var mediaDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Media files",
		Pattern:     "*.mp4;*.mov;*.mkv;*.avi;*.mp3;*.wav;*.m4a;*.flac;*.aac;*.ogg;*.webm",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App wires configuration, the job runner, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Jobs        *jobs.Manager
	Runner      *jobs.Runner
	Diagnostics domain.DiagnosticReport

	assets  fs.FS
	checker *diagnostics.Checker
	lock    *singleinstance.Lock
	events  *jobs.EventBus
	log     *logrus.Logger

	mu         sync.Mutex
	runtimeCtx context.Context
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded
// frontend assets. Acquires the single-instance lock: a second launch while
// another instance is alive fails here, before any window opens.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	dataDir := filepath.Join(homeDir, ".whisper-desk")
	log := newFileLogger(filepath.Join(dataDir, "logs", "app.log"))

	lock := singleinstance.New(filepath.Join(dataDir, "whisper-desk.lock"), "whisper-desk")
	if err := lock.Acquire(); err != nil {
		log.Errorf("acquire instance lock: %v", err)
		return nil, err
	}

	store := config.NewJSONStore(filepath.Join(dataDir, "settings.json"))
	settings, err := store.Load()
	if err != nil {
		lock.Release()
		log.Errorf("load settings: %v", err)
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	checker := diagnostics.NewChecker()
	manager := jobs.NewManager()
	events := jobs.NewEventBus(1000)

	app := &App{
		Settings:    settings,
		Store:       store,
		Jobs:        manager,
		Diagnostics: checker.Run(settings),
		assets:      assets,
		checker:     checker,
		lock:        lock,
		events:      events,
		log:         log,
	}
	app.Runner = jobs.NewRunner(manager, events, newEngine, app.emitJobEvent)
	return app, nil
}

// newEngine builds a CLI engine for the selected model. Called once per
// (model, device) pair; the runner caches the instance across jobs.
func newEngine(settings domain.Settings) (transcribe.Engine, error) {
	modelPath, known := domain.ModelFilePath(settings.ModelDir, settings.ModelID)
	if !known {
		return nil, fmt.Errorf("unknown model: %s", settings.ModelID)
	}
	return transcribe.NewCLIEngine(modelPath)
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Whisper Desk",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores the Wails runtime context for push events, then kicks off
// the background update check.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	a.mu.Unlock()

	go a.CheckForUpdates()
}

// Shutdown waits for the worker and releases the instance lock.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()

	a.Runner.Cancel()
	a.Runner.Wait()
	a.lock.Release()
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns the environment checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	report := a.checker.Run(settings)
	a.mu.Lock()
	a.Settings = settings
	a.Diagnostics = report
	a.mu.Unlock()
	return report, nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()
	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	report := a.checker.Run(normalized)
	a.mu.Lock()
	a.Settings = normalized
	a.Diagnostics = report
	a.mu.Unlock()
	return normalized, nil
}

// PickMediaFiles opens a native multi-select dialog for media inputs.
func (a *App) PickMediaFiles() ([]string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return nil, err
	}

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select media files",
		Filters: mediaDialogFilter,
	})
	if err != nil {
		return nil, err
	}

	selected := make([]string, 0, len(paths))
	for _, path := range paths {
		if trimmed := strings.TrimSpace(path); trimmed != "" {
			selected = append(selected, trimmed)
		}
	}
	return selected, nil
}

// PickModelDirectory opens a native directory picker for the model folder.
func (a *App) PickModelDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select model directory",
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// PickOutputDirectory opens a native directory picker for transcript exports.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select output directory",
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// StartTranscription validates the selection and launches the batch job.
// Validation errors (empty selection, missing files, already running) are
// returned synchronously and the job never starts.
func (a *App) StartTranscription(inputPaths []string) (domain.Job, error) {
	settings, err := a.GetSettings()
	if err != nil {
		return domain.Job{}, err
	}

	job, err := a.Runner.Start(context.Background(), jobs.Request{
		Files:    inputPaths,
		Settings: settings,
	})
	if err != nil {
		a.log.Errorf("start transcription: %v", err)
		return domain.Job{}, err
	}
	return job, nil
}

// CancelTranscription requests cancellation of the running job. No new file
// will start; the in-flight file stops on its next diagnostic write.
func (a *App) CancelTranscription() error {
	if !a.Jobs.IsRunning() {
		return jobs.ErrNoRunningJob
	}
	a.Runner.Cancel()
	return nil
}

// CurrentJob returns current job metadata and status.
func (a *App) CurrentJob() domain.Job {
	return a.Jobs.Current()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// OpenOutputFolder opens the given path (or configured output dir) in the
// platform file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}
	return openInFileManager(openPath)
}

// emitJobEvent pushes a published event to the frontend. The worker never
// touches UI state directly; Wails marshals the emit onto the UI loop.
func (a *App) emitJobEvent(event jobs.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", event)
	}
}

// runtimeContext returns the current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims user inputs and fills defaults for empty fields.
func normalizeSettings(settings domain.Settings) domain.Settings {
	defaults := config.DefaultSettings()

	settings.ModelID = strings.TrimSpace(settings.ModelID)
	settings.ModelDir = strings.TrimSpace(settings.ModelDir)
	settings.Device = strings.ToLower(strings.TrimSpace(settings.Device))
	settings.Language = strings.TrimSpace(settings.Language)
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)

	if settings.ModelID == "" {
		settings.ModelID = defaults.ModelID
	}
	if settings.ModelDir == "" {
		settings.ModelDir = defaults.ModelDir
	}
	if settings.Device != "cpu" {
		settings.Device = "auto"
	}
	if settings.Language == "" {
		settings.Language = defaults.Language
	}
	return settings
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}

// newFileLogger builds a timestamped file logger. A log that cannot be opened
// degrades to a discard sink; the app never fails because of logging.
func newFileLogger(path string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(io.Discard)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return logger
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return logger
	}
	logger.SetOutput(file)
	return logger
}
