// Package audit holds the shared state threaded through every stage of one
// compliance audit run.
package audit

import (
	"maps"
	"slices"
	"sync"

	"github.com/teranos/brandguard/errors"
)

// ErrAlreadySet is returned when a write-once field is written twice
var ErrAlreadySet = errors.New("field already set")

// State is the single mutable record shared by all stages of one run.
// Stages never write fields directly; they contribute an Update which is
// applied under the lock. Findings and Errors only ever grow.
type State struct {
	mu sync.RWMutex

	videoURL string
	videoID  string

	localFilePath *string
	videoMetadata map[string]any
	transcript    *string
	ocrText       []string

	complianceResults []Finding

	finalStatus Status
	finalReport string

	errors []string
}

// NewState builds the initial state for a run
func NewState(videoURL, videoID string) *State {
	return &State{
		videoURL:          videoURL,
		videoID:           videoID,
		videoMetadata:     map[string]any{},
		ocrText:           []string{},
		complianceResults: []Finding{},
		errors:            []string{},
	}
}

// VideoURL returns the immutable source identifier
func (s *State) VideoURL() string { return s.videoURL }

// VideoID returns the immutable run identifier
func (s *State) VideoID() string { return s.videoID }

// Update is one stage's contribution to the shared state.
// Nil pointer fields are left untouched; slices are appended.
type Update struct {
	LocalFilePath     *string        `json:"local_file_path,omitempty"`
	VideoMetadata     map[string]any `json:"video_metadata,omitempty"`
	Transcript        *string        `json:"transcript,omitempty"`
	OCRText           []string       `json:"ocr_text,omitempty"`
	ComplianceResults []Finding      `json:"compliance_results,omitempty"`
	FinalStatus       *Status        `json:"final_status,omitempty"`
	FinalReport       *string        `json:"final_report,omitempty"`
	Errors            []string       `json:"errors,omitempty"`
}

// IsZero reports whether u carries no contribution
func (u Update) IsZero() bool {
	return u.LocalFilePath == nil && len(u.VideoMetadata) == 0 && u.Transcript == nil &&
		len(u.OCRText) == 0 && len(u.ComplianceResults) == 0 && u.FinalStatus == nil &&
		u.FinalReport == nil && len(u.Errors) == 0
}

// Apply merges u into the state. Append-only fields are merged with Merge,
// metadata keys are overlaid, and the write-once verdict fields reject a
// second write: the rejection is appended to the error log and returned.
func (s *State) Apply(u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.LocalFilePath != nil {
		p := *u.LocalFilePath
		s.localFilePath = &p
	}
	if len(u.VideoMetadata) > 0 {
		maps.Copy(s.videoMetadata, cloneMetadata(u.VideoMetadata))
	}
	if u.Transcript != nil {
		tr := *u.Transcript
		s.transcript = &tr
	}
	s.ocrText = Merge(s.ocrText, u.OCRText)

	if len(u.ComplianceResults) > 0 {
		contributed := make([]Finding, len(u.ComplianceResults))
		for i, f := range u.ComplianceResults {
			contributed[i] = f.clone()
		}
		s.complianceResults = Merge(s.complianceResults, contributed)
	}
	s.errors = Merge(s.errors, u.Errors)

	var errs error
	if u.FinalStatus != nil {
		if s.finalStatus != StatusUnset {
			errs = errors.Wrapf(ErrAlreadySet, "final_status is %q", s.finalStatus)
		} else {
			s.finalStatus = *u.FinalStatus
		}
	}
	if u.FinalReport != nil {
		if s.finalReport != "" {
			err := errors.Wrap(ErrAlreadySet, "final_report")
			if errs == nil {
				errs = err
			} else {
				errs = errors.WithSecondaryError(errs, err)
			}
		} else {
			s.finalReport = *u.FinalReport
		}
	}
	if errs != nil {
		s.errors = Merge(s.errors, []string{errs.Error()})
	}
	return errs
}

// AppendError records a fault description in the error log
func (s *State) AppendError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = Merge(s.errors, []string{msg})
}

// FindingCount returns the current number of findings
func (s *State) FindingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.complianceResults)
}

// ErrorCount returns the current length of the error log
func (s *State) ErrorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.errors)
}

// Snapshot is a point-in-time deep copy of the state, safe to read and
// serialise without holding the lock.
type Snapshot struct {
	VideoURL          string         `json:"video_url"`
	VideoID           string         `json:"video_id"`
	LocalFilePath     *string        `json:"local_file_path"`
	VideoMetadata     map[string]any `json:"video_metadata"`
	Transcript        *string        `json:"transcript"`
	OCRText           []string       `json:"ocr_text"`
	ComplianceResults []Finding      `json:"compliance_results"`
	FinalStatus       Status         `json:"final_status"`
	FinalReport       string         `json:"final_report"`
	Errors            []string       `json:"errors"`
}

// Snapshot copies the current state
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		VideoURL:          s.videoURL,
		VideoID:           s.videoID,
		VideoMetadata:     cloneMetadata(s.videoMetadata),
		OCRText:           slices.Clone(s.ocrText),
		ComplianceResults: make([]Finding, len(s.complianceResults)),
		FinalStatus:       s.finalStatus,
		FinalReport:       s.finalReport,
		Errors:            slices.Clone(s.errors),
	}
	if s.localFilePath != nil {
		p := *s.localFilePath
		snap.LocalFilePath = &p
	}
	if s.transcript != nil {
		tr := *s.transcript
		snap.Transcript = &tr
	}
	for i, f := range s.complianceResults {
		snap.ComplianceResults[i] = f.clone()
	}
	return snap
}

// HasCritical reports whether any finding in the snapshot is critical
func (s Snapshot) HasCritical() bool {
	for _, f := range s.ComplianceResults {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// cloneMetadata copies m and the maps and slices nested in it. Other
// values are shared, so metadata should hold plain JSON-like data.
func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMetadata(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}
