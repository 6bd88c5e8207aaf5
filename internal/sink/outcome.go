package sink

import (
	"time"

	"github.com/ironsheep/capture-assistant/internal/failure"
)

// Kind is the kind of a delivered outcome.
type Kind string

const (
	// Success carries the final text of a run.
	Success Kind = "success"
	// Chunk carries one piece of a streaming response. It is never final.
	Chunk Kind = "chunk"
	// Failure carries a failure kind and its notice.
	Failure Kind = "failure"
)

// FailureInfo describes why a run failed.
type FailureInfo struct {
	Kind   failure.Kind `json:"kind"`
	Notice string       `json:"notice"`
	Detail string       `json:"detail,omitempty"`
}

// Outcome is what the presentation layer receives.
type Outcome struct {
	RunID      string    `json:"run_id"`
	SessionID  string    `json:"session_id,omitempty"`
	TemplateID string    `json:"template_id,omitempty"`
	Kind       Kind      `json:"kind"`
	Text       string    `json:"text,omitempty"`
	HTML       string    `json:"html,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	Failure *FailureInfo `json:"failure,omitempty"`
	// Unrecognized counts segments that were replaced by a placeholder.
	Unrecognized int `json:"unrecognized,omitempty"`
	// Cancelled marks a success cut short by the user; Text holds what arrived.
	Cancelled bool `json:"cancelled,omitempty"`
	// Interrupted marks a failure after part of the response was received.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Final reports whether o ends its run.
func (o Outcome) Final() bool {
	return o.Kind != Chunk
}

// Succeeded builds a success outcome.
func Succeeded(runID, text string) Outcome {
	return Outcome{RunID: runID, Kind: Success, Text: text}
}

// PartialChunk builds a streaming chunk outcome.
func PartialChunk(runID, text string) Outcome {
	return Outcome{RunID: runID, Kind: Chunk, Text: text}
}

// Failed builds a failure outcome from err. The failure kind is taken from
// err's chain and defaults to Internal.
func Failed(runID string, err error) Outcome {
	kind := failure.KindOf(err)
	info := &FailureInfo{Kind: kind, Notice: kind.Notice()}
	if err != nil {
		info.Detail = err.Error()
	}
	return Outcome{RunID: runID, Kind: Failure, Failure: info}
}
