package version

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrInvalidVersion is returned when a string cannot be parsed as a
// semantic version.
var ErrInvalidVersion = errors.New("invalid semantic version")

// Fallback is the lowest possible version, used in place of a missing or
// corrupted local version marker so an update is always offered.
const Fallback = "0.0.0"

// Parse parses a semantic version string, accepting an optional leading "v".
func Parse(raw string) (*semver.Version, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalidVersion)
	}

	v, err := semver.NewVersion(strings.TrimPrefix(trimmed, "v"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, raw)
	}
	return v, nil
}

// Compare orders two version strings under semantic-version precedence,
// including pre-release suffixes. Returns -1, 0, or 1.
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// marker is the on-disk version marker payload.
type marker struct {
	Version string `json:"version"`
}

// ReadMarker returns the locally installed version recorded at path. A
// missing or unparsable marker degrades to Fallback instead of failing so a
// corrupted install still triggers an update offer.
func ReadMarker(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fallback
	}

	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Fallback
	}
	if _, err := Parse(m.Version); err != nil {
		return Fallback
	}
	return strings.TrimSpace(m.Version)
}

// WriteMarker persists the installed version at path, creating parents.
func WriteMarker(path, installed string) error {
	if _, err := Parse(installed); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(marker{Version: installed}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
