package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"whisper-desk/internal/version"
)

const testAsset = "whisper-desk.exe"

// fakeFeed answers the release feed and asset download endpoints in-memory.
type fakeFeed struct {
	releaseJSON string
	assetBody   string
	requests    []string
}

// do satisfies the injected HTTP seam.
func (f *fakeFeed) do(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req.URL.String())
	body := f.releaseJSON
	if strings.Contains(req.URL.Path, "download") {
		body = f.assetBody
	}
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}, nil
}

// releaseJSON builds a minimal feed payload.
func releaseJSON(tag string, assetNames ...string) string {
	assets := make([]string, 0, len(assetNames))
	for _, name := range assetNames {
		assets = append(assets, fmt.Sprintf(
			`{"name":%q,"browser_download_url":"https://releases.example/download/%s"}`, name, name))
	}
	return fmt.Sprintf(`{"tag_name":%q,"assets":[%s]}`, tag, strings.Join(assets, ","))
}

// newTestClient wires a client against a temp install root and the fake feed.
func newTestClient(t *testing.T, feed *fakeFeed, localVersion string) (*Client, Config) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		FeedURL:    "https://releases.example/latest",
		AssetName:  testAsset,
		TargetPath: filepath.Join(root, testAsset),
		MarkerPath: filepath.Join(root, "app", "version.json"),
		UserAgent:  "whisper-desk-updater",
	}
	if localVersion != "" {
		if err := version.WriteMarker(cfg.MarkerPath, localVersion); err != nil {
			t.Fatalf("seed marker: %v", err)
		}
	}
	return NewClientForTests(cfg, feed.do, nil, func(string) {}), cfg
}

// TestRunAppliesNewerRelease checks the full download-swap-marker flow.
func TestRunAppliesNewerRelease(t *testing.T) {
	feed := &fakeFeed{
		releaseJSON: releaseJSON("v1.4.0", "checksums.txt", testAsset),
		assetBody:   "new binary bytes",
	}
	stopped := ""
	client, cfg := newTestClient(t, feed, "1.3.0")
	client.stopInstances = func(name string) { stopped = name }

	outcome, err := client.Run(context.Background(), Options{Silent: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !outcome.Applied {
		t.Fatalf("outcome = %+v, want Applied", outcome)
	}
	if outcome.RemoteVersion != "1.4.0" {
		t.Fatalf("remote = %s, want 1.4.0 (v stripped)", outcome.RemoteVersion)
	}
	if stopped != testAsset {
		t.Fatalf("stopped = %q, want %q", stopped, testAsset)
	}

	installed, err := os.ReadFile(cfg.TargetPath)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(installed) != "new binary bytes" {
		t.Fatalf("target content = %q", installed)
	}
	if got := version.ReadMarker(cfg.MarkerPath); got != "1.4.0" {
		t.Fatalf("marker after update = %s, want 1.4.0", got)
	}
}

// TestRunUpToDate checks that an equal remote version is a no-op.
func TestRunUpToDate(t *testing.T) {
	feed := &fakeFeed{releaseJSON: releaseJSON("1.3.0", testAsset)}
	client, cfg := newTestClient(t, feed, "1.3.0")

	outcome, err := client.Run(context.Background(), Options{Silent: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !outcome.UpToDate || outcome.Applied {
		t.Fatalf("outcome = %+v, want UpToDate without Applied", outcome)
	}
	if _, err := os.Stat(cfg.TargetPath); !os.IsNotExist(err) {
		t.Fatal("no executable should be written when up to date")
	}
	if len(feed.requests) != 1 {
		t.Fatalf("requests = %v, want feed fetch only", feed.requests)
	}
}

// TestRunForceReinstallsEqualVersion checks --force semantics.
func TestRunForceReinstallsEqualVersion(t *testing.T) {
	feed := &fakeFeed{
		releaseJSON: releaseJSON("1.3.0", testAsset),
		assetBody:   "same version bytes",
	}
	client, _ := newTestClient(t, feed, "1.3.0")

	outcome, err := client.Run(context.Background(), Options{Force: true, Silent: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !outcome.Applied {
		t.Fatalf("outcome = %+v, want Applied under force", outcome)
	}
}

// TestRunCorruptMarkerTriggersUpdate checks the 0.0.0 fallback end to end.
func TestRunCorruptMarkerTriggersUpdate(t *testing.T) {
	feed := &fakeFeed{
		releaseJSON: releaseJSON("0.1.0", testAsset),
		assetBody:   "bytes",
	}
	client, cfg := newTestClient(t, feed, "")
	if err := os.MkdirAll(filepath.Dir(cfg.MarkerPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.MarkerPath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	outcome, err := client.Run(context.Background(), Options{Silent: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.LocalVersion != version.Fallback {
		t.Fatalf("local = %s, want fallback", outcome.LocalVersion)
	}
	if !outcome.Applied {
		t.Fatalf("outcome = %+v, want Applied", outcome)
	}
}

// TestRunMissingAsset checks exact-name asset matching.
func TestRunMissingAsset(t *testing.T) {
	feed := &fakeFeed{
		releaseJSON: releaseJSON("9.0.0", "whisper-desk-debug.exe", "whisper-desk.exe.sig"),
	}
	client, _ := newTestClient(t, feed, "1.0.0")

	_, err := client.Run(context.Background(), Options{Silent: true})
	if !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("err = %v, want ErrAssetNotFound", err)
	}
}

// TestRunUserDefers checks that a declined prompt exits cleanly.
func TestRunUserDefers(t *testing.T) {
	feed := &fakeFeed{releaseJSON: releaseJSON("2.0.0", testAsset)}
	client, cfg := newTestClient(t, feed, "1.0.0")
	client.SetConfirm(func(local, remote string) bool { return false })

	outcome, err := client.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !outcome.Deferred || outcome.Applied {
		t.Fatalf("outcome = %+v, want Deferred", outcome)
	}
	if got := version.ReadMarker(cfg.MarkerPath); got != "1.0.0" {
		t.Fatalf("marker = %s, want untouched 1.0.0", got)
	}
}

// TestRunRejectsUnparsableTag checks tag validation failure.
func TestRunRejectsUnparsableTag(t *testing.T) {
	feed := &fakeFeed{releaseJSON: releaseJSON("release-candidate", testAsset)}
	client, _ := newTestClient(t, feed, "1.0.0")

	if _, err := client.Run(context.Background(), Options{Silent: true}); !errors.Is(err, version.ErrInvalidVersion) {
		t.Fatalf("err = %v, want ErrInvalidVersion", err)
	}
}

// TestRunFeedFailure checks that a transport error surfaces.
func TestRunFeedFailure(t *testing.T) {
	wantErr := errors.New("connection refused")
	client, _ := newTestClient(t, &fakeFeed{}, "1.0.0")
	client.httpDo = func(req *http.Request) (*http.Response, error) { return nil, wantErr }

	if _, err := client.Run(context.Background(), Options{Silent: true}); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}
