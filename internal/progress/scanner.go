package progress

import (
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic tools overwrite a line in place with carriage returns and may
// color it with ANSI SGR sequences. Only the most recent state of the last
// line carries a usable completion signal.
var (
	ansiPattern       = regexp.MustCompile(`\x1b\[[0-9;]*m`)
	percentBarPattern = regexp.MustCompile(`(\d{1,3})%\|`)
	percentPattern    = regexp.MustCompile(`(\d{1,3})%`)
	ratioPattern      = regexp.MustCompile(`(\d{1,3})/(\d+)`)
)

// Scan extracts a best-effort completion percentage from one chunk of raw
// diagnostic text. The decorated percent-with-bar form wins over a bare
// percent, which is tried before the ratio form so a ratio is never misread
// as two independent percentages. Returns false when the chunk carries no
// usable signal.
func Scan(chunk string) (float64, bool) {
	line := chunk
	if idx := strings.LastIndex(line, "\r"); idx >= 0 {
		line = line[idx+1:]
	}
	if idx := strings.LastIndex(line, "\n"); idx >= 0 {
		line = line[idx+1:]
	}
	line = ansiPattern.ReplaceAllString(line, "")

	if m := percentBarPattern.FindStringSubmatch(line); m != nil {
		return percentValue(m[1])
	}
	if m := percentPattern.FindStringSubmatch(line); m != nil {
		return percentValue(m[1])
	}
	if m := ratioPattern.FindStringSubmatch(line); m != nil {
		current, err1 := strconv.Atoi(m[1])
		total, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil || total <= 0 {
			return 0, false
		}
		return (float64(current) / float64(total)) * 100, true
	}
	return 0, false
}

// percentValue validates a matched integer percentage.
func percentValue(raw string) (float64, bool) {
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 || value > 100 {
		return 0, false
	}
	return float64(value), true
}

// Global combines a finished-file base offset with the current file's local
// estimate into an overall job percentage, clamped to [0, 100].
func Global(fileIndex, totalFiles int, localPercent float64) float64 {
	if totalFiles < 1 {
		totalFiles = 1
	}
	global := ((float64(fileIndex) + localPercent/100) / float64(totalFiles)) * 100
	return Clamp(global)
}

// Clamp bounds a percentage into [0, 100].
func Clamp(percent float64) float64 {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
