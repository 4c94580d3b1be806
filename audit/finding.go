package audit

// Severity grades a compliance finding
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Valid reports whether s is one of the known severities
func (s Severity) Valid() bool {
	return s == SeverityCritical || s == SeverityWarning
}

// Finding is one detected compliance issue. Findings are values: once
// appended to a State they are never modified.
type Finding struct {
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Timestamp   *string  `json:"timestamp"` // position in the video, if known
}

// clone copies f so the caller's Timestamp pointer is not shared
func (f Finding) clone() Finding {
	if f.Timestamp != nil {
		ts := *f.Timestamp
		f.Timestamp = &ts
	}
	return f
}

// Status is the final verdict of an audit run
type Status string

const (
	StatusUnset Status = ""
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
)
