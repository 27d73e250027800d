package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"time"

	"whisper-desk/internal/jobs"
	"whisper-desk/internal/update"
	"whisper-desk/internal/version"
)

const (
	releaseFeedURL   = "https://api.github.com/repos/kaoyeoshiro/whisper-desk/releases/latest"
	updaterAssetName = "whisper-desk.exe"
	updateUserAgent  = "whisper-desk"
	updateCheckLimit = 30 * time.Second
)

// AppVersion returns the locally installed version from the marker file.
func (a *App) AppVersion() string {
	return version.ReadMarker(markerPath())
}

// CheckForUpdates queries the release feed off the UI thread and pushes an
// update:available event when a newer version exists. Failures are logged and
// swallowed: an unreachable feed must never disturb startup.
func (a *App) CheckForUpdates() {
	ctx, cancel := context.WithTimeout(context.Background(), updateCheckLimit)
	defer cancel()

	client := update.NewClient(update.Config{
		FeedURL:    releaseFeedURL,
		AssetName:  updaterAssetName,
		TargetPath: filepath.Join(installDir(), updaterAssetName),
		MarkerPath: markerPath(),
		UserAgent:  updateUserAgent,
	}, "")

	outcome, err := client.Check(ctx)
	if err != nil {
		a.log.Errorf("update check: %v", err)
		return
	}
	if outcome.UpToDate {
		return
	}

	a.emitJobEvent(jobs.Event{
		Type: jobs.EventTypeStatus,
		Message: fmt.Sprintf("Update available: %s (installed: %s)",
			outcome.RemoteVersion, outcome.LocalVersion),
	})
}

// ApplyUpdate hands the swap over to the standalone updater executable, which
// can replace this binary after the app exits.
func (a *App) ApplyUpdate() error {
	updater := filepath.Join(installDir(), updaterExecutableName())
	cmd := exec.Command(updater, "--silent")
	if err := cmd.Start(); err != nil {
		a.log.Errorf("launch updater: %v", err)
		return fmt.Errorf("launch updater: %w", err)
	}
	return nil
}

// installDir is the directory holding the running executable.
func installDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// markerPath is the installed-version marker shared with the updater.
func markerPath() string {
	return filepath.Join(installDir(), "app", "version.json")
}

// updaterExecutableName returns the platform name of the updater binary.
func updaterExecutableName() string {
	if goruntime.GOOS == "windows" {
		return "updater.exe"
	}
	return "updater"
}
