package progress

import (
	"errors"
	"io"
	"sync/atomic"
)

// ErrCancelled signals that the user requested cancellation while an
// inference call was writing diagnostics.
var ErrCancelled = errors.New("transcription cancelled")

// flusher is implemented by destinations that buffer writes.
type flusher interface {
	Flush() error
}

// Interceptor wraps one diagnostic output channel of an opaque inference
// call. Every write is forwarded unmodified so user-visible logs are never
// delayed or altered. When monitoring is enabled the chunk is scanned for a
// local completion percentage and the computed global percentage is handed
// to the callback. After forwarding, a set cancellation flag turns the write
// into ErrCancelled; os/exec aborts its copy loop on that error, which is
// the only cancellation lever an opaque child process offers. Responsiveness
// is therefore bounded by how often the child writes — there is no upper
// bound on the latency between a cancel request and the actual stop.
type Interceptor struct {
	dst        io.Writer
	monitor    bool
	fileIndex  int
	totalFiles int
	cancelled  *atomic.Bool
	onProgress func(globalPercent float64)
}

// NewInterceptor wraps dst without progress monitoring.
func NewInterceptor(dst io.Writer, cancelled *atomic.Bool) *Interceptor {
	return &Interceptor{dst: dst, cancelled: cancelled}
}

// NewMonitoredInterceptor wraps dst and reports global progress for the file
// at fileIndex within a batch of totalFiles.
func NewMonitoredInterceptor(dst io.Writer, cancelled *atomic.Bool, fileIndex, totalFiles int, onProgress func(float64)) *Interceptor {
	return &Interceptor{
		dst:        dst,
		monitor:    true,
		fileIndex:  fileIndex,
		totalFiles: totalFiles,
		cancelled:  cancelled,
		onProgress: onProgress,
	}
}

// Write forwards, scans, and checks the cancellation flag, in that order.
// The forward happens even when cancellation is already pending so the last
// diagnostics are not lost.
func (w *Interceptor) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if f, ok := w.dst.(flusher); ok {
		_ = f.Flush()
	}
	if err != nil {
		return n, err
	}

	if w.monitor {
		if local, ok := Scan(string(p)); ok && w.onProgress != nil {
			w.onProgress(Global(w.fileIndex, w.totalFiles, local))
		}
	}

	if w.cancelled != nil && w.cancelled.Load() {
		return n, ErrCancelled
	}
	return n, nil
}
