package bootstrap

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"whisper-desk/internal/domain"
	"whisper-desk/internal/jobs"
)

const modelDownloadTimeout = 45 * time.Minute

// GetWhisperModels returns the catalog with downloaded models marked against
// the configured model directory.
func (a *App) GetWhisperModels() ([]domain.WhisperModelOption, error) {
	settings, err := a.GetSettings()
	if err != nil {
		return nil, err
	}

	models := domain.WhisperModels()
	for i := range models {
		candidate := filepath.Join(settings.ModelDir, models[i].FileName)
		info, statErr := os.Stat(candidate)
		if statErr != nil || info.IsDir() {
			continue
		}
		models[i].Downloaded = true
		models[i].LocalPath = candidate
	}
	return models, nil
}

// DownloadWhisperModel fetches the selected model into the model directory,
// selects it in settings, and refreshes diagnostics. Progress reaches the UI
// through model:download events.
func (a *App) DownloadWhisperModel(modelID string) (domain.Settings, error) {
	id := strings.TrimSpace(modelID)
	if id == "" {
		return domain.Settings{}, fmt.Errorf("model id is required")
	}

	model, found := domain.WhisperModelByID(id)
	if !found {
		return domain.Settings{}, fmt.Errorf("unknown model id: %s", id)
	}

	settings, err := a.GetSettings()
	if err != nil {
		return domain.Settings{}, err
	}

	targetPath := filepath.Join(settings.ModelDir, model.FileName)
	if err := a.downloadModelFile(model, targetPath); err != nil {
		a.log.Errorf("download model %s: %v", model.ID, err)
		return domain.Settings{}, fmt.Errorf("download model %s: %w", model.Name, err)
	}

	settings.ModelID = model.ID
	return a.SaveSettings(settings)
}

// downloadModelFile streams the model to a temp file in the target directory
// and renames it into place, so an interrupted download never leaves a
// half-written model behind.
func (a *App) downloadModelFile(model domain.WhisperModelOption, targetPath string) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return err
	}

	client := &http.Client{Timeout: modelDownloadTimeout}
	resp, err := client.Get(model.URL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model download returned %s", resp.Status)
	}

	temp, err := os.CreateTemp(filepath.Dir(targetPath), ".model-*")
	if err != nil {
		return err
	}

	bar := progressbar.DefaultBytes(resp.ContentLength, "downloading "+model.FileName)
	sink := io.MultiWriter(temp, bar, a.newDownloadEmitter(model.ID, resp.ContentLength))

	if _, err := io.Copy(sink, resp.Body); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return err
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return err
	}
	return os.Rename(temp.Name(), targetPath)
}

// newDownloadEmitter returns a writer that converts received byte counts
// into whole-percent progress events pushed to the frontend.
func (a *App) newDownloadEmitter(modelID string, totalBytes int64) io.Writer {
	return &downloadEmitter{emit: a.emitJobEvent, modelID: modelID, total: totalBytes}
}

type downloadEmitter struct {
	emit     func(jobs.Event)
	modelID  string
	total    int64
	received int64
	lastPct  int
}

// Write tracks received bytes and emits on each whole-percent step.
func (e *downloadEmitter) Write(p []byte) (int, error) {
	e.received += int64(len(p))
	if e.total <= 0 {
		return len(p), nil
	}

	pct := int(float64(e.received) / float64(e.total) * 100)
	if pct > 100 {
		pct = 100
	}
	if pct > e.lastPct {
		e.lastPct = pct
		e.emit(jobs.Event{
			Type:     jobs.EventTypeProgress,
			Message:  fmt.Sprintf("Downloading model %s", e.modelID),
			Progress: float64(pct),
		})
	}
	return len(p), nil
}
