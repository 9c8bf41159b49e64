// Package state holds the mutable record threaded through a single report
// run. The workflow engine owns the ResearchState exclusively; stages receive
// it in sequence and fan-out tasks within a stage write to disjoint keys.
package state

import (
	"time"
)

// Status is the terminal disposition of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// FieldValue is one merged data point with its provenance. Synthetic marks
// values produced by the fallback generator rather than a real source.
type FieldValue struct {
	Value     any    `json:"value"`
	Source    string `json:"source"`
	Synthetic bool   `json:"synthetic"`
}

// Reference is a citation collected during gathering, deduplicated by URL at
// assembly time.
type Reference struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Artifact records one rendered visualization, or its absence. Exactly one
// artifact exists per visualization key per run; rebinding overwrites.
type Artifact struct {
	Key         string   `json:"key"`
	FilePath    string   `json:"file_path,omitempty"`
	Missing     bool     `json:"missing"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Fields      []string `json:"fields,omitempty"`
}

// ProgressEntry is one structured event in the run log. The log is
// load-bearing: tests and operators rely on it to see which fallback or
// matching rule fired.
type ProgressEntry struct {
	Time    time.Time `json:"time"`
	Stage   string    `json:"stage"`
	Kind    string    `json:"kind"` // stage_start, stage_done, fetch_error, render_error, match, fallback, fatal
	Message string    `json:"message"`
}

// ResearchState carries all data, narrative, and artifacts for one run.
type ResearchState struct {
	RunID   string `json:"run_id"`
	Subject string `json:"subject"`

	// Raw per-source payloads as fetched, keyed by source name.
	SourceData map[string]map[string]any `json:"source_data"`

	// Merged field map after priority merge and fallback synthesis.
	Fields map[string]FieldValue `json:"fields"`

	// Narrative is the raw header-delimited text from the generator.
	Narrative string `json:"narrative"`

	Artifacts  map[string]Artifact `json:"artifacts"`
	References []Reference         `json:"references"`
	Progress   []ProgressEntry     `json:"progress"`

	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`

	// ArtifactPath is the rendered document location once assembly finishes.
	ArtifactPath string `json:"artifact_path,omitempty"`
}

// New returns a fresh state for a run.
func New(runID, subject string) *ResearchState {
	return &ResearchState{
		RunID:      runID,
		Subject:    subject,
		SourceData: make(map[string]map[string]any),
		Fields:     make(map[string]FieldValue),
		Artifacts:  make(map[string]Artifact),
		Status:     StatusRunning,
		StartedAt:  time.Now(),
	}
}

// Record appends a progress entry.
func (s *ResearchState) Record(stage, kind, message string) {
	s.Progress = append(s.Progress, ProgressEntry{
		Time:    time.Now(),
		Stage:   stage,
		Kind:    kind,
		Message: message,
	})
}

// CountProgress returns how many progress entries of the given kind were
// recorded.
func (s *ResearchState) CountProgress(kind string) int {
	n := 0
	for _, e := range s.Progress {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Field returns the merged value for a field, if present.
func (s *ResearchState) Field(name string) (FieldValue, bool) {
	v, ok := s.Fields[name]
	return v, ok
}

// SetField stores a merged value. Fan-out tasks call this only for fields
// they own, so no lock is needed within a stage.
func (s *ResearchState) SetField(name string, v FieldValue) {
	s.Fields[name] = v
}

// HasSynthetic reports whether any merged field came from the fallback
// generator.
func (s *ResearchState) HasSynthetic() bool {
	for _, v := range s.Fields {
		if v.Synthetic {
			return true
		}
	}
	return false
}
