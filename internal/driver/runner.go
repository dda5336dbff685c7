package driver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/autocrawlerHQ/chatwalk/internal/artifacts"
	"github.com/autocrawlerHQ/chatwalk/internal/events"
	"github.com/autocrawlerHQ/chatwalk/internal/session"
)

// RunState tracks where a walkthrough is in its lifecycle.
type RunState string

const (
	StatePending   RunState = "pending"
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"

	// StateAwaitingInspection is the parked terminal state: the run is over
	// but the browser is held open for a human. The exit path is an OS
	// signal, delivered through the command's signal-bound context.
	StateAwaitingInspection RunState = "awaiting_inspection"
)

// Step is one entry in the walkthrough. Steps are best-effort by
// construction: their actions use the Safe* primitives, so a missing
// element degrades to a logged no-op. An error returned from Run is fatal
// to the whole sequence.
type Step struct {
	Name string
	Run  func(ctx context.Context, r *Runner) error
}

// Config carries the per-run settings the steps consult.
type Config struct {
	BaseURL  string
	Email    string
	Password string
	Headless bool
	Debug    bool
}

/// Runner threads all walkthrough state through one place: the page, the
// event sink, the screenshot store, and the step counters. Nothing here is
// shared across runs.
type Runner struct {
	page  Page
	sink  events.Sink
	store artifacts.Store
	cfg   Config

	runID     uuid.UUID
	total     int
	completed int
	current   int
	state     RunState
	sess      *session.State

	// stdin is what DebugPause blocks on; swapped out in tests.
	stdin io.Reader
}

func NewRunner(page Page, sink events.Sink, store artifacts.Store, cfg Config) *Runner {
	return &Runner{
		page:  page,
		sink:  sink,
		store: store,
		cfg:   cfg,
		runID: uuid.New(),
		state: StatePending,
		stdin: os.Stdin,
	}
}

// SetSession attaches a loaded storage-state snapshot. Cookies are applied
// to the browser immediately; localStorage seeding happens inside the
// authenticate step once the origin is loaded.
func (r *Runner) SetSession(ctx context.Context, st *session.State) error {
	r.sess = st
	if st.Empty() {
		return nil
	}
	if err := r.page.SetCookies(ctx, st.Cookies); err != nil {
		return fmt.Errorf("apply saved cookies: %w", err)
	}
	log.Printf("[RUNNER] session state loaded (%d cookies, %d origins)", len(st.Cookies), len(st.Origins))
	return nil
}

func (r *Runner) Page() Page              { return r.page }
func (r *Runner) Config() Config          { return r.cfg }
func (r *Runner) Session() *session.State { return r.sess }
func (r *Runner) RunID() uuid.UUID        { return r.runID }
func (r *Runner) State() RunState         { return r.state }
func (r *Runner) Completed() int          { return r.completed }
func (r *Runner) Total() int              { return r.total }

// Run executes the steps strictly in order. It returns the first fatal
// error; element-not-found conditions never reach here.
func (r *Runner) Run(ctx context.Context, steps []Step) error {
	r.total = len(steps)
	r.completed = 0
	r.state = StateRunning

	r.emit(events.KindRunnerStart, events.Payload{
		"runId":      r.runID.String(),
		"url":        r.cfg.BaseURL,
		"totalSteps": r.total,
		"headless":   r.cfg.Headless,
		"debug":      r.cfg.Debug,
	})
	log.Printf("[RUNNER] starting walkthrough of %s (%d steps)", r.cfg.BaseURL, r.total)

	for i, step := range steps {
		if err := r.runStep(ctx, i+1, step); err != nil {
			r.state = StateFailed
			r.emit(events.KindRunnerError, events.Payload{
				"step":       i + 1,
				"totalSteps": r.total,
				"error":      err.Error(),
				"stack":      string(debug.Stack()),
			})
			log.Printf("[RUNNER] ✗ run aborted at step %d/%d: %v", i+1, r.total, err)
			log.Printf("[RUNNER]   └── completed %d step(s) before failure", r.completed)
			return fmt.Errorf("step %d/%d (%s): %w", i+1, r.total, step.Name, err)
		}
	}

	r.state = StateCompleted
	r.emit(events.KindRunnerEnd, events.Payload{
		"success":        true,
		"completedSteps": r.completed,
		"totalSteps":     r.total,
	})
	log.Printf("[RUNNER] ✓ walkthrough complete: %d/%d steps", r.completed, r.total)
	return nil
}

func (r *Runner) runStep(ctx context.Context, index int, step Step) error {
	r.current = index
	log.Printf("[RUNNER] ══ Step %d/%d: %s", index, r.total, step.Name)
	r.emit(events.KindActionStart, events.Payload{
		"name":  step.Name,
		"index": index,
		"total": r.total,
	})

	err := step.Run(ctx, r)
	if err != nil {
		r.emit(events.KindActionEnd, events.Payload{
			"name":  step.Name,
			"ok":    false,
			"error": err.Error(),
		})
		// The failure capture lands before the error surfaces so the trace
		// always pairs the broken step with its screenshot.
		r.captureFailure(ctx, index, step.Name)
		return err
	}

	r.emit(events.KindActionEnd, events.Payload{
		"name": step.Name,
		"ok":   true,
	})
	r.completed++
	log.Printf("[RUNNER] ✓ step %d/%d done (%d%%)", index, r.total, r.completed*100/r.total)
	return nil
}

// HoldForInspection parks the run with the browser open and blocks until
// the context is canceled by a signal.
func (r *Runner) HoldForInspection(ctx context.Context) {
	r.state = StateAwaitingInspection
	log.Printf("[RUNNER] awaiting manual inspection; browser stays open (send SIGINT/SIGTERM to exit)")
	<-ctx.Done()
}

// PageLoaded announces that the application shell finished loading.
func (r *Runner) PageLoaded(url string) {
	r.emit(events.KindPageLoaded, events.Payload{"url": url})
}

// Checkpoint captures a screenshot at a designated verification point. A
// capture failure is logged and absorbed: checkpoints must never fail a
// step that otherwise succeeded.
func (r *Runner) Checkpoint(ctx context.Context, name string) {
	key := fmt.Sprintf("%02d-%s.png", r.current, slug(name))
	r.screenshot(ctx, name, key)
}

func (r *Runner) captureFailure(ctx context.Context, index int, name string) {
	key := fmt.Sprintf("failure-%02d-%s.png", index, slug(name))
	r.screenshot(ctx, name, key)
}

func (r *Runner) screenshot(ctx context.Context, name, key string) {
	png, err := r.page.Screenshot(ctx)
	if err != nil {
		log.Printf("[RUNNER] ✗ screenshot %s failed: %v", key, err)
		return
	}
	path, err := r.store.Put(ctx, key, bytes.NewReader(png))
	if err != nil {
		log.Printf("[RUNNER] ✗ store screenshot %s failed: %v", key, err)
		return
	}
	r.emit(events.KindScreenshotTaken, events.Payload{
		"name": name,
		"path": path,
	})
}

// DebugPause suspends the run for operator inspection when debug mode is
// on: emits the pause event, then waits for a newline on stdin or for
// cancellation.
func (r *Runner) DebugPause(ctx context.Context, reason string) {
	if !r.cfg.Debug {
		return
	}
	r.emit(events.KindDebugPause, events.Payload{"reason": reason})
	log.Printf("[RUNNER] debug pause (%s): press Enter to continue", reason)

	lines := make(chan struct{}, 1)
	go func() {
		reader := bufio.NewReader(r.stdin)
		reader.ReadString('\n')
		lines <- struct{}{}
	}()

	select {
	case <-lines:
	case <-ctx.Done():
	}
}

// Sleep waits for a fixed duration unless the run is canceled first. Steps
// use it for stream-settle waits.
func (r *Runner) Sleep(ctx context.Context, d time.Duration) error {
	return sleepCtx(ctx, d)
}

// emit writes to the sinks best-effort: losing an event must never alter
// the run's behavior.
func (r *Runner) emit(kind events.Kind, payload events.Payload) {
	if err := r.sink.Emit(events.New(kind, payload)); err != nil {
		log.Printf("[RUNNER] ✗ emit %s failed: %v", kind, err)
	}
}

func slug(name string) string {
	var sb strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}
