package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"

	"whisper-desk/internal/version"
)

// ErrAssetNotFound reports a release without the expected executable asset.
var ErrAssetNotFound = errors.New("update: release asset not found")

// Release is the subset of the release feed payload the updater reads.
type Release struct {
	TagName string  `json:"tag_name"`
	Assets  []Asset `json:"assets"`
}

// Asset is one downloadable file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Options control one updater run.
type Options struct {
	// Silent suppresses every non-error prompt and notification.
	Silent bool
	// Force applies the release even when it is not newer than the marker.
	Force bool
}

// Outcome summarizes what the run decided and did.
type Outcome struct {
	LocalVersion  string
	RemoteVersion string
	UpToDate      bool
	Applied       bool
	Deferred      bool
}

// Config wires a Client to its environment.
type Config struct {
	// FeedURL returns the latest release as JSON.
	FeedURL string
	// AssetName is the exact name of the executable asset to install.
	AssetName string
	// TargetPath is the executable to replace.
	TargetPath string
	// MarkerPath is the installed-version JSON file.
	MarkerPath string
	// UserAgent is sent on every feed and download request.
	UserAgent string
}

// Client performs the sequential check-download-swap flow. All collaborators
// sit behind struct fields so tests can run the full flow without network,
// processes, or real binaries.
type Client struct {
	cfg Config
	log *logrus.Logger

	httpDo        func(req *http.Request) (*http.Response, error)
	confirm       func(local, remote string) bool
	notify        func(message string)
	stopInstances func(executableName string)
	newBar        func(size int64, description string) io.Writer
	readMarker    func(path string) string
	writeMarker   func(path, installed string) error
}

// NewClient builds a Client with real collaborators. Log entries go to
// logPath with timestamps; when the log file cannot be opened the logger
// writes to a discard sink rather than failing the update.
func NewClient(cfg Config, logPath string) *Client {
	return &Client{
		cfg: cfg,
		log: newFileLogger(logPath),
		httpDo: func(req *http.Request) (*http.Response, error) {
			return http.DefaultClient.Do(req)
		},
		confirm:       func(local, remote string) bool { return true },
		notify:        func(message string) {},
		stopInstances: stopInstancesByName,
		newBar: func(size int64, description string) io.Writer {
			return progressbar.DefaultBytes(size, description)
		},
		readMarker:  version.ReadMarker,
		writeMarker: version.WriteMarker,
	}
}

// NewClientForTests builds a Client with every collaborator injected.
func NewClientForTests(
	cfg Config,
	httpDo func(req *http.Request) (*http.Response, error),
	confirm func(local, remote string) bool,
	stopInstances func(executableName string),
) *Client {
	client := NewClient(cfg, "")
	client.log.SetOutput(io.Discard)
	client.httpDo = httpDo
	if confirm != nil {
		client.confirm = confirm
	}
	if stopInstances != nil {
		client.stopInstances = stopInstances
	}
	client.newBar = func(size int64, description string) io.Writer { return io.Discard }
	return client
}

// SetConfirm replaces the update confirmation prompt.
func (c *Client) SetConfirm(confirm func(local, remote string) bool) {
	c.confirm = confirm
}

// SetNotify replaces the informational message sink.
func (c *Client) SetNotify(notify func(message string)) {
	c.notify = notify
}

// Check fetches the release feed and compares it to the local marker without
// downloading anything. Used by the app's startup check.
func (c *Client) Check(ctx context.Context) (Outcome, error) {
	_, outcome, err := c.evaluate(ctx)
	return outcome, err
}

// evaluate runs the shared fetch-parse-compare prefix of a cycle.
func (c *Client) evaluate(ctx context.Context) (Release, Outcome, error) {
	outcome := Outcome{LocalVersion: c.readMarker(c.cfg.MarkerPath)}
	c.log.Infof("local version: %s", outcome.LocalVersion)

	release, err := c.fetchLatestRelease(ctx)
	if err != nil {
		c.log.Errorf("fetch release feed: %v", err)
		return Release{}, outcome, err
	}

	remote, err := version.Parse(release.TagName)
	if err != nil {
		c.log.Errorf("parse release tag %q: %v", release.TagName, err)
		return Release{}, outcome, err
	}
	outcome.RemoteVersion = remote.String()
	c.log.Infof("remote version: %s", outcome.RemoteVersion)

	cmp, err := version.Compare(outcome.RemoteVersion, outcome.LocalVersion)
	if err != nil {
		c.log.Errorf("compare versions: %v", err)
		return Release{}, outcome, err
	}
	outcome.UpToDate = cmp <= 0
	return release, outcome, nil
}

// Run executes one update cycle. It returns a nil error for the up-to-date
// and user-deferred outcomes; any network, parse, or filesystem failure is
// logged with a timestamp and returned for the entry point to map to a
// non-zero exit status.
func (c *Client) Run(ctx context.Context, opts Options) (Outcome, error) {
	release, outcome, err := c.evaluate(ctx)
	if err != nil {
		return outcome, err
	}
	if outcome.UpToDate && !opts.Force {
		c.log.Info("no update required")
		if !opts.Silent {
			c.notify(fmt.Sprintf("You are already running the latest version (%s).", outcome.LocalVersion))
		}
		return outcome, nil
	}
	outcome.UpToDate = false

	assetURL, err := c.findAssetURL(release)
	if err != nil {
		c.log.Errorf("locate asset: %v", err)
		return outcome, err
	}

	if !opts.Silent && !opts.Force && !c.confirm(outcome.LocalVersion, outcome.RemoteVersion) {
		outcome.Deferred = true
		c.log.Info("user deferred update")
		return outcome, nil
	}

	c.log.Infof("downloading update from %s", assetURL)
	tempPath, err := c.download(ctx, assetURL)
	if err != nil {
		c.log.Errorf("download asset: %v", err)
		return outcome, err
	}
	defer os.Remove(tempPath)

	c.stopInstances(filepath.Base(c.cfg.TargetPath))

	if err := replaceExecutable(tempPath, c.cfg.TargetPath); err != nil {
		c.log.Errorf("replace executable: %v", err)
		return outcome, err
	}
	if err := c.writeMarker(c.cfg.MarkerPath, outcome.RemoteVersion); err != nil {
		c.log.Errorf("write version marker: %v", err)
		return outcome, err
	}

	outcome.Applied = true
	c.log.Infof("update applied: %s", outcome.RemoteVersion)
	if !opts.Silent {
		c.notify(fmt.Sprintf("Updated to version %s.", outcome.RemoteVersion))
	}
	return outcome, nil
}

// fetchLatestRelease retrieves and decodes the release feed.
func (c *Client) fetchLatestRelease(ctx context.Context) (Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.FeedURL, nil)
	if err != nil {
		return Release{}, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpDo(req)
	if err != nil {
		return Release{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Release{}, fmt.Errorf("release feed returned %s", resp.Status)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return Release{}, fmt.Errorf("decode release feed: %w", err)
	}
	if strings.TrimSpace(release.TagName) == "" {
		return Release{}, errors.New("release feed has no tag")
	}
	return release, nil
}

// findAssetURL selects the asset whose name matches the expected executable
// exactly. Partial matches are rejected so a renamed or debug build attached
// to the same release is never installed.
func (c *Client) findAssetURL(release Release) (string, error) {
	for _, asset := range release.Assets {
		if asset.Name == c.cfg.AssetName {
			return asset.BrowserDownloadURL, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrAssetNotFound, c.cfg.AssetName)
}

// download fetches the asset into a temp file next to the target so the
// final rename stays on one filesystem.
func (c *Client) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpDo(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("asset download returned %s", resp.Status)
	}

	dir := filepath.Dir(c.cfg.TargetPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	temp, err := os.CreateTemp(dir, ".update-*")
	if err != nil {
		return "", err
	}

	bar := c.newBar(resp.ContentLength, "downloading update")
	if _, err := io.Copy(io.MultiWriter(temp, bar), resp.Body); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return "", err
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return "", err
	}
	return temp.Name(), nil
}

// replaceExecutable swaps the downloaded file into place with a rename, which
// is atomic on the same filesystem.
func replaceExecutable(tempPath, targetPath string) error {
	if err := os.Chmod(tempPath, 0o755); err != nil {
		return err
	}
	return os.Rename(tempPath, targetPath)
}

// stopInstancesByName terminates every running process with the given
// executable name. Best effort: a process list or kill failure is ignored so
// an unavailable termination mechanism never blocks the update itself.
func stopInstancesByName(executableName string) {
	procs, err := process.Processes()
	if err != nil {
		return
	}
	self := int32(os.Getpid())
	for _, proc := range procs {
		if proc.Pid == self {
			continue
		}
		name, err := proc.Name()
		if err != nil || name != executableName {
			continue
		}
		_ = proc.Kill()
	}
}

// newFileLogger builds a timestamped file logger. Logging must never take the
// updater down, so every failure here degrades to a discard sink.
func newFileLogger(path string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(io.Discard)
	if path == "" {
		return logger
	}
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
