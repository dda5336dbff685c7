package events

import (
	"encoding/json"
	"time"
)

// Kind identifies a run milestone. The vocabulary is fixed; consumers key
// off these strings, so they are part of the wire contract.
type Kind string

const (
	KindRunnerStart     Kind = "runner.start"
	KindPageLoaded      Kind = "page.loaded"
	KindActionStart     Kind = "action.start"
	KindActionEnd       Kind = "action.end"
	KindScreenshotTaken Kind = "screenshot.taken"
	KindDebugPause      Kind = "debug.pause"
	KindRunnerEnd       Kind = "runner.end"
	KindRunnerError     Kind = "runner.error"
)

// Payload carries the kind-specific attributes of an event.
type Payload map[string]any

// Event is one record in the run trace. Records are emitted in order,
// appended and never rewritten.
type Event struct {
	TS      time.Time
	Kind    Kind
	Payload Payload
}

// New stamps an event with the current UTC instant.
func New(kind Kind, payload Payload) Event {
	if payload == nil {
		payload = Payload{}
	}
	return Event{TS: time.Now().UTC(), Kind: kind, Payload: payload}
}

// wireEvent pins the serialized field set: ts, kind, payload, nothing else.
type wireEvent struct {
	TS      string  `json:"ts"`
	Kind    Kind    `json:"kind"`
	Payload Payload `json:"payload"`
}

const tsLayout = "2006-01-02T15:04:05.000Z07:00"

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		TS:      e.TS.UTC().Format(tsLayout),
		Kind:    e.Kind,
		Payload: e.Payload,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339, w.TS)
	if err != nil {
		return err
	}
	e.TS = ts
	e.Kind = w.Kind
	e.Payload = w.Payload
	return nil
}
