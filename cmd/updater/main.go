package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"whisper-desk/internal/update"
)

const (
	feedURL   = "https://api.github.com/repos/kaoyeoshiro/whisper-desk/releases/latest"
	assetName = "whisper-desk.exe"
	userAgent = "whisper-desk-updater"
)

func main() {
	silent := flag.Bool("silent", false, "suppress messages when no update is available")
	force := flag.Bool("force", false, "install the latest release even when it is not newer")
	flag.Parse()

	installRoot := installDir()
	client := update.NewClient(update.Config{
		FeedURL:    feedURL,
		AssetName:  assetName,
		TargetPath: filepath.Join(installRoot, assetName),
		MarkerPath: filepath.Join(installRoot, "app", "version.json"),
		UserAgent:  userAgent,
	}, logPath(installRoot))
	client.SetNotify(func(message string) {
		fmt.Println(message)
	})

	outcome, err := client.Run(context.Background(), update.Options{
		Silent: *silent,
		Force:  *force,
	})
	if err != nil {
		if !*silent {
			fmt.Fprintf(os.Stderr, "update failed: %v\n", err)
		}
		os.Exit(1)
	}

	if outcome.Applied && !*silent {
		fmt.Printf("updated %s -> %s\n", outcome.LocalVersion, outcome.RemoteVersion)
	}
}

// installDir is the directory holding the installed executable, falling back
// to the working directory when the executable path cannot be resolved.
func installDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// logPath places the updater log under the user config dir, next to the app's
// own data, so a failed update is diagnosable without the GUI.
func logPath(installRoot string) string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = installRoot
	}
	return filepath.Join(base, "whisper-desk", "logs", "updater.log")
}
