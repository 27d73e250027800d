package transcribe

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/asticode/go-astisub"

	"whisper-desk/internal/domain"
)

// WritePlain persists the trimmed transcript followed by a single trailing
// newline. Empty or whitespace-only input produces an empty file. Re-running
// with identical input overwrites with identical content.
func WritePlain(text, path string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return os.WriteFile(path, nil, 0o644)
	}
	return os.WriteFile(path, []byte(trimmed+"\n"), 0o644)
}

// WriteTimestamped persists one line per segment in the form
// "[mm:ss.mmm --> mm:ss.mmm]  <text>" with exactly two spaces before the
// trimmed segment text.
func WriteTimestamped(segments []domain.Segment, path string) error {
	var b strings.Builder
	for _, segment := range segments {
		fmt.Fprintf(
			&b,
			"[%s --> %s]  %s\n",
			formatTimestamp(segment.Start),
			formatTimestamp(segment.End),
			strings.TrimSpace(segment.Text),
		)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// WriteSRT exports segments as SubRip subtitles.
func WriteSRT(segments []domain.Segment, path string) error {
	subs := astisub.NewSubtitles()
	for _, segment := range segments {
		subs.Items = append(subs.Items, &astisub.Item{
			StartAt: time.Duration(segment.Start * float64(time.Second)),
			EndAt:   time.Duration(segment.End * float64(time.Second)),
			Lines: []astisub.Line{
				{Items: []astisub.LineItem{{Text: strings.TrimSpace(segment.Text)}}},
			},
		})
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return subs.WriteToSRT(file)
}

// formatTimestamp converts seconds into zero-padded mm:ss.mmm.
func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	minutes := int(seconds) / 60
	rest := seconds - float64(minutes*60)
	return fmt.Sprintf("%02d:%06.3f", minutes, rest)
}
