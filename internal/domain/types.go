package domain

// JobStatus tracks the lifecycle of a single batch transcription job.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusFailed    JobStatus = "failed"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	ModelID   string `json:"modelId"`
	ModelDir  string `json:"modelDir"`
	Device    string `json:"device"`
	Language  string `json:"language"`
	OutputDir string `json:"outputDir"`
	ExportSRT bool   `json:"exportSrt"`
}

// Job stores the current job identity and lifecycle status.
type Job struct {
	ID             string    `json:"id"`
	Status         JobStatus `json:"status"`
	TotalFiles     int       `json:"totalFiles"`
	ProcessedFiles int       `json:"processedFiles"`
}

// Segment is one timed slice of a transcription.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription is the full output of one inference call for one file.
type Transcription struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}
