// Package wire defines the JSON messages sent to audit clients and the
// projection of pipeline events onto them.
package wire

import (
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/teranos/brandguard/errors"
	"github.com/teranos/brandguard/pipeline"
)

// Message types and texts of the control messages
const (
	TypeSystem = "system"
	TypeError  = "error"

	MessageStarted  = "Audit started"
	MessageComplete = "Audit complete"
	StatusDone      = "done"

	// RejectMissingVideoURL is the only rejection a client can receive
	RejectMissingVideoURL = "No video_url provided"
)

// Message is one projected pipeline event
type Message struct {
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// StartedMessage announces a run and carries the full session id
type StartedMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// CompleteMessage terminates a successful run
type CompleteMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// ErrorMessage reports a fault during a run
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Rejection answers an initial message without a usable video_url
type Rejection struct {
	Error string `json:"error"`
}

// Started builds the run announcement
func Started(sessionID string) StartedMessage {
	return StartedMessage{Type: TypeSystem, Message: MessageStarted, SessionID: sessionID}
}

// Complete builds the terminal success message
func Complete() CompleteMessage {
	return CompleteMessage{Type: TypeSystem, Message: MessageComplete, Status: StatusDone}
}

// Fault builds the best-effort error message for err
func Fault(err error) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: err.Error()}
}

// Reject builds the validation rejection
func Reject() Rejection {
	return Rejection{Error: RejectMissingVideoURL}
}

var emptyData = json.RawMessage(`{}`)

// Projector maps pipeline events onto wire messages one to one.
// Each Projector belongs to one session; its keys are unique within it.
type Projector struct {
	seq atomic.Uint64
	now func() time.Time
}

// NewProjector returns a projector keyed off the wall clock
func NewProjector() *Projector {
	return &Projector{now: time.Now}
}

// Project converts ev. A payload that cannot be serialised is an error;
// nothing is sent in that case.
func (p *Projector) Project(ev pipeline.Event) (Message, error) {
	data := emptyData
	if ev.Data != nil {
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			return Message{}, errors.Wrapf(err, "serialise %s payload of %s", ev.Kind, ev.Name)
		}
		data = raw
	}
	return Message{
		Type:      string(ev.Kind),
		Name:      ev.Name,
		Data:      data,
		Timestamp: p.key(),
	}, nil
}

// key is "<RFC3339Nano UTC>#<seq>", seq starting at 1
func (p *Projector) key() string {
	n := p.seq.Add(1)
	return p.now().UTC().Format(time.RFC3339Nano) + "#" + strconv.FormatUint(n, 10)
}

// Milestones is the set of stage names whose start and end get logged
type Milestones map[string]struct{}

// NewMilestones builds a milestone set from stage names
func NewMilestones(names ...string) Milestones {
	m := make(Milestones, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// Is reports whether ev is the start or end of a milestone stage
func (m Milestones) Is(ev pipeline.Event) bool {
	if ev.Kind != pipeline.EventStart && ev.Kind != pipeline.EventEnd {
		return false
	}
	_, ok := m[ev.Name]
	return ok
}
