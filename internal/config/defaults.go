package config

import (
	"os"
	"path/filepath"

	"whisper-desk/internal/domain"
)

// DefaultSettings returns baseline local configuration for first launch.
// OutputDir stays empty so transcripts land next to their input files.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		ModelID:  "medium",
		ModelDir: filepath.Join(homeDir, ".whisper-desk", "models"),
		Device:   "auto",
		Language: "pt",
	}
}
