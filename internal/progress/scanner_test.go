package progress

import (
	"math"
	"testing"
)

// TestScanPercentWithBar checks the tqdm-style decorated percent form.
func TestScanPercentWithBar(t *testing.T) {
	got, ok := Scan(" 37%|███▋      | 1234/3330 [00:12<00:21, 98.1frames/s]")
	if !ok {
		t.Fatal("expected a signal")
	}
	if got != 37.0 {
		t.Fatalf("percent = %v, want 37", got)
	}
}

// TestScanBarePercent checks the undecorated percent form.
func TestScanBarePercent(t *testing.T) {
	got, ok := Scan("progress: 82%")
	if !ok {
		t.Fatal("expected a signal")
	}
	if got != 82.0 {
		t.Fatalf("percent = %v, want 82", got)
	}
}

// TestScanRatio checks the current/total fallback form.
func TestScanRatio(t *testing.T) {
	got, ok := Scan("frames 12/50")
	if !ok {
		t.Fatal("expected a signal")
	}
	if got != 24.0 {
		t.Fatalf("percent = %v, want 24", got)
	}
}

// TestScanRatioZeroDenominator rejects division by zero.
func TestScanRatioZeroDenominator(t *testing.T) {
	if _, ok := Scan("chunk 3/0"); ok {
		t.Fatal("expected no signal for zero denominator")
	}
}

// TestScanNoDigits reports no signal for plain log text.
func TestScanNoDigits(t *testing.T) {
	if _, ok := Scan("detecting language..."); ok {
		t.Fatal("expected no signal")
	}
}

// TestScanStripsANSIEscapes verifies color codes do not hide the value.
func TestScanStripsANSIEscapes(t *testing.T) {
	got, ok := Scan("\x1b[32m5%\x1b[0m")
	if !ok {
		t.Fatal("expected a signal")
	}
	if got != 5.0 {
		t.Fatalf("percent = %v, want 5", got)
	}
}

// TestScanKeepsOnlyLastCarriageReturnSegment verifies in-place line
// overwrites discard the stale earlier value.
func TestScanKeepsOnlyLastCarriageReturnSegment(t *testing.T) {
	got, ok := Scan("12%|█         |\r48%|████▊     |")
	if !ok {
		t.Fatal("expected a signal")
	}
	if got != 48.0 {
		t.Fatalf("percent = %v, want 48", got)
	}
}

// TestScanKeepsOnlyLastNewlineSegment verifies newline splitting after CR.
func TestScanKeepsOnlyLastNewlineSegment(t *testing.T) {
	got, ok := Scan("old 99%\nnow 10%")
	if !ok {
		t.Fatal("expected a signal")
	}
	if got != 10.0 {
		t.Fatalf("percent = %v, want 10", got)
	}
}

// TestScanOutOfRangePercent rejects values above 100.
func TestScanOutOfRangePercent(t *testing.T) {
	if _, ok := Scan("999%"); ok {
		t.Fatal("expected no signal for out-of-range percent")
	}
}

// TestGlobalFormula checks the documented batch progress formula.
func TestGlobalFormula(t *testing.T) {
	got := Global(1, 4, 50)
	if got != 37.5 {
		t.Fatalf("global = %v, want 37.5", got)
	}
}

// TestGlobalClamps keeps reported values inside [0, 100].
func TestGlobalClamps(t *testing.T) {
	if got := Global(3, 4, 200); got != 100 {
		t.Fatalf("global = %v, want 100", got)
	}
	if got := Global(0, 4, -50); got != 0 {
		t.Fatalf("global = %v, want 0", got)
	}
}

// TestGlobalGuardsZeroTotal never divides by zero.
func TestGlobalGuardsZeroTotal(t *testing.T) {
	if got := Global(0, 0, 50); math.IsNaN(got) || math.IsInf(got, 0) {
		t.Fatalf("global = %v, want finite", got)
	}
}
