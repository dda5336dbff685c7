package driver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// Locator names a logical UI target and the candidate selectors that might
// match it, in priority order. The cascade exists because the target app's
// DOM drifts between releases; the first candidate that resolves wins.
type Locator struct {
	Name      string
	Selectors []string
	Timeout   time.Duration // per candidate; zero means the primitive default
}

// L is shorthand for building a locator.
func L(name string, selectors ...string) Locator {
	return Locator{Name: name, Selectors: selectors}
}

// WithTimeout returns a copy with a per-candidate timeout override.
func (l Locator) WithTimeout(d time.Duration) Locator {
	l.Timeout = d
	return l
}

// SafeClick clicks the first matching candidate. Absence of every candidate
// is not an error: the skip is logged and (false, nil) comes back. Only a
// genuine browser failure returns an error, and that error is run-fatal.
func (r *Runner) SafeClick(ctx context.Context, loc Locator) (bool, error) {
	return r.firstMatch(ctx, loc, DefaultClickTimeout, "click", func(opCtx context.Context, sel string, d time.Duration) error {
		return r.page.Click(opCtx, sel, d)
	})
}

// SafeFill clears and types into the first matching candidate. Same
// contract as SafeClick, with a shorter default wait.
func (r *Runner) SafeFill(ctx context.Context, loc Locator, value string) (bool, error) {
	return r.firstMatch(ctx, loc, DefaultFillTimeout, "fill", func(opCtx context.Context, sel string, d time.Duration) error {
		return r.page.Fill(opCtx, sel, value, d)
	})
}

func (r *Runner) firstMatch(ctx context.Context, loc Locator, def time.Duration, verb string, op func(context.Context, string, time.Duration) error) (bool, error) {
	timeout := loc.Timeout
	if timeout <= 0 {
		timeout = def
	}

	for _, sel := range loc.Selectors {
		err := op(ctx, sel, timeout)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, ErrElementNotFound) {
			continue
		}
		return false, fmt.Errorf("%s %q (%s): %w", verb, loc.Name, sel, err)
	}

	log.Printf("[RUNNER]   └── skip: no match for %q (tried %d selector(s))", loc.Name, len(loc.Selectors))
	return false, nil
}

// Press sends a key or chord to the focused element.
func (r *Runner) Press(ctx context.Context, key string) error {
	return r.page.Press(ctx, key)
}

// Count reports how many elements match; an unmatched selector is zero,
// never an error.
func (r *Runner) Count(ctx context.Context, selector string) (int, error) {
	n, err := r.page.Count(ctx, selector)
	if err != nil {
		if errors.Is(err, ErrElementNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("count %q: %w", selector, err)
	}
	return n, nil
}

// HasText reports whether the visible page text contains the substring.
func (r *Runner) HasText(ctx context.Context, text string) (bool, error) {
	body, err := r.page.BodyText(ctx)
	if err != nil {
		return false, fmt.Errorf("read page text: %w", err)
	}
	return strings.Contains(body, text), nil
}

// Navigate is run-fatal on failure; unrecoverable navigation is one of the
// two fatal classes.
func (r *Runner) Navigate(ctx context.Context, url string) error {
	return r.page.Navigate(ctx, url)
}

// Settle waits for the page to go quiet, absorbing the never-idle case: a
// streaming app holding connections open is expected, logged, and not an
// error.
func (r *Runner) Settle(ctx context.Context, timeout time.Duration) error {
	err := r.page.WaitQuiet(ctx, timeout)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPageBusy) {
		log.Printf("[RUNNER]   └── page never went idle within %s, continuing", timeout)
		return nil
	}
	return err
}
