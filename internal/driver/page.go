package driver

import (
	"context"
	"errors"
	"time"

	"github.com/autocrawlerHQ/chatwalk/internal/session"
)

var (
	// ErrElementNotFound means a selector matched nothing within its wait
	// window. Best-effort primitives absorb this; it is never run-fatal.
	ErrElementNotFound = errors.New("driver: element not found")

	// ErrPageBusy means the page never settled within the quiet window.
	// Streaming apps hold connections open, so callers log and continue.
	ErrPageBusy = errors.New("driver: page did not go quiet")
)

const (
	// Per-candidate wait before a click target is declared absent.
	DefaultClickTimeout = 3 * time.Second
	// Inputs get a shorter window; fields either render promptly or not at all.
	DefaultFillTimeout = 1500 * time.Millisecond
	// Hard bound on navigations; exceeding it is run-fatal on the first step.
	NavigateTimeout = 15 * time.Second
	// How long step 1 waits for the page to settle before giving up and moving on.
	QuietTimeout = 10 * time.Second

	opTimeout = 10 * time.Second
)

// Page is the browser surface the runner drives. Implementations map
// "selector matched nothing before the timeout" to ErrElementNotFound and
// reserve real errors for genuine failures: a dead browser, a canceled
// parent context, a CDP transport fault. That split is what lets the
// walkthrough skip missing UI instead of dying on it.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	WaitQuiet(ctx context.Context, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string, timeout time.Duration) error
	Press(ctx context.Context, key string) error
	Count(ctx context.Context, selector string) (int, error)
	BodyText(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	ScrollBy(ctx context.Context, dy int) error
	SetCookies(ctx context.Context, cookies []session.Cookie) error
	SeedLocalStorage(ctx context.Context, items []session.StorageItem) error
}
