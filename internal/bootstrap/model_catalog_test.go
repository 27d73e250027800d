package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"whisper-desk/internal/jobs"
)

// TestGetWhisperModelsMarksDownloaded checks local model detection.
func TestGetWhisperModelsMarksDownloaded(t *testing.T) {
	settings := testSettings(t)
	if err := os.MkdirAll(settings.ModelDir, 0o755); err != nil {
		t.Fatalf("mkdir models: %v", err)
	}
	local := filepath.Join(settings.ModelDir, "ggml-base.bin")
	if err := os.WriteFile(local, []byte("stub"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	app := newTestApp(t, &fakeStore{settings: settings}, instantEngine{})
	models, err := app.GetWhisperModels()
	if err != nil {
		t.Fatalf("GetWhisperModels() error = %v", err)
	}

	for _, model := range models {
		switch model.ID {
		case "base":
			if !model.Downloaded || model.LocalPath != local {
				t.Fatalf("base model = %+v, want downloaded at %s", model, local)
			}
		default:
			if model.Downloaded {
				t.Fatalf("model %s marked downloaded without a file", model.ID)
			}
		}
	}
}

// TestDownloadWhisperModelRejectsUnknownID checks catalog validation.
func TestDownloadWhisperModelRejectsUnknownID(t *testing.T) {
	app := newTestApp(t, &fakeStore{settings: testSettings(t)}, instantEngine{})

	if _, err := app.DownloadWhisperModel(""); err == nil {
		t.Fatal("expected error for empty model id")
	}
	if _, err := app.DownloadWhisperModel("gigantic"); err == nil {
		t.Fatal("expected error for unknown model id")
	}
}

// TestDownloadEmitterReportsWholePercents checks byte-to-percent conversion.
func TestDownloadEmitterReportsWholePercents(t *testing.T) {
	var percents []float64
	emitter := &downloadEmitter{
		emit:    func(event jobs.Event) { percents = append(percents, event.Progress) },
		modelID: "base",
		total:   200,
	}

	for i := 0; i < 4; i++ {
		if _, err := emitter.Write(make([]byte, 50)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	want := []float64{25, 50, 75, 100}
	if len(percents) != len(want) {
		t.Fatalf("percents = %v, want %v", percents, want)
	}
	for i := range want {
		if percents[i] != want[i] {
			t.Fatalf("percents = %v, want %v", percents, want)
		}
	}
}

// TestDownloadEmitterUnknownTotal checks unknown content length handling.
func TestDownloadEmitterUnknownTotal(t *testing.T) {
	emitter := &downloadEmitter{
		emit:    func(jobs.Event) { t.Fatal("no progress without a known size") },
		modelID: "base",
		total:   -1,
	}

	n, err := emitter.Write(make([]byte, 128))
	if err != nil || n != 128 {
		t.Fatalf("Write() = (%d, %v), want full write without progress", n, err)
	}
}
