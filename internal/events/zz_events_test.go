package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEvent_MarshalJSON_WireFormat(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

	tests := []struct {
		name     string
		event    Event
		expected string
	}{
		{
			name:     "action end success",
			event:    Event{TS: ts, Kind: KindActionEnd, Payload: Payload{"name": "Send a test message", "ok": true}},
			expected: `{"ts":"2026-03-14T09:26:53.589Z","kind":"action.end","payload":{"name":"Send a test message","ok":true}}`,
		},
		{
			name:     "empty payload stays an object",
			event:    Event{TS: ts, Kind: KindPageLoaded, Payload: Payload{}},
			expected: `{"ts":"2026-03-14T09:26:53.589Z","kind":"page.loaded","payload":{}}`,
		},
		{
			name:     "non utc timestamps normalize to utc",
			event:    Event{TS: ts.In(time.FixedZone("CET", 3600)), Kind: KindDebugPause, Payload: Payload{"reason": "initial-load"}},
			expected: `{"ts":"2026-03-14T09:26:53.589Z","kind":"debug.pause","payload":{"reason":"initial-load"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.expected {
				t.Errorf("wire format = %s, want %s", data, tt.expected)
			}
		})
	}
}

func TestEvent_MarshalJSON_FieldSet(t *testing.T) {
	data, err := json.Marshal(New(KindRunnerStart, Payload{"url": "http://localhost:3080"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 3 {
		t.Errorf("expected exactly ts/kind/payload, got %d keys", len(decoded))
	}
	for _, key := range []string{"ts", "kind", "payload"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing %q key", key)
		}
	}
}

func TestEvent_RoundTrip(t *testing.T) {
	orig := Event{
		TS:      time.Date(2026, 1, 2, 3, 4, 5, 600_000_000, time.UTC),
		Kind:    KindRunnerError,
		Payload: Payload{"step": float64(7), "totalSteps": float64(33), "error": "page closed"},
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.TS.Equal(orig.TS) {
		t.Errorf("ts = %v, want %v", back.TS, orig.TS)
	}
	if back.Kind != orig.Kind {
		t.Errorf("kind = %v, want %v", back.Kind, orig.Kind)
	}
	if back.Payload["error"] != "page closed" {
		t.Errorf("payload error = %v, want %q", back.Payload["error"], "page closed")
	}
}

func TestNew_DefaultsPayload(t *testing.T) {
	ev := New(KindRunnerEnd, nil)
	if ev.Payload == nil {
		t.Fatal("expected non-nil payload")
	}
	if ev.TS.IsZero() {
		t.Fatal("expected stamped timestamp")
	}
	if ev.TS.Location() != time.UTC {
		t.Errorf("timestamp location = %v, want UTC", ev.TS.Location())
	}
}

func TestFileSink_AppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "events.jsonl")

	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	for _, kind := range []Kind{KindRunnerStart, KindActionStart, KindActionEnd} {
		if err := sink.Emit(New(kind, Payload{"name": "step"})); err != nil {
			t.Fatalf("emit %s: %v", kind, err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	wantKinds := []Kind{KindRunnerStart, KindActionStart, KindActionEnd}
	for i, line := range lines {
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		if ev.Kind != wantKinds[i] {
			t.Errorf("line %d kind = %s, want %s", i, ev.Kind, wantKinds[i])
		}
	}
}

func TestFileSink_ReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	first, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	if err := first.Emit(New(KindRunnerStart, nil)); err != nil {
		t.Fatalf("emit: %v", err)
	}
	first.Close()

	second, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink reopen: %v", err)
	}
	if err := second.Emit(New(KindRunnerEnd, nil)); err != nil {
		t.Fatalf("emit: %v", err)
	}
	second.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 2 {
		t.Errorf("expected 2 lines after reopen, got %d", got)
	}
}

type failingSink struct {
	err error
}

func (s *failingSink) Emit(Event) error { return s.err }
func (s *failingSink) Close() error     { return nil }

func TestMultiSink_OrderAndErrorPolicy(t *testing.T) {
	var a, b bytes.Buffer
	boom := errors.New("disk full")

	multi := NewMultiSink(NewConsoleSink(&a), &failingSink{err: boom}, NewConsoleSink(&b))

	ev := Event{TS: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Kind: KindActionStart, Payload: Payload{"index": 1}}
	err := multi.Emit(ev)
	if !errors.Is(err, boom) {
		t.Fatalf("expected first sink error, got %v", err)
	}

	// Later sinks still receive the event after an earlier failure.
	if a.Len() == 0 || b.Len() == 0 {
		t.Fatalf("expected both console sinks written, got %d and %d bytes", a.Len(), b.Len())
	}
	if a.String() != b.String() {
		t.Errorf("sinks diverged:\n%s\n%s", a.String(), b.String())
	}
}

func TestMultiSink_IdenticalLines(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "events.jsonl")
	file, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	multi := NewMultiSink(NewConsoleSink(&console), file)
	for i := 0; i < 5; i++ {
		ev := Event{TS: time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC), Kind: KindActionEnd, Payload: Payload{"ok": true}}
		if err := multi.Emit(ev); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}
	if err := multi.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	fromFile, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if console.String() != string(fromFile) {
		t.Errorf("console and file sinks diverged:\nconsole: %s\nfile: %s", console.String(), fromFile)
	}
}
