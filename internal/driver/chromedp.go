package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/autocrawlerHQ/chatwalk/internal/session"
)

// BrowserSession owns one Chrome target over CDP and implements Page on it.
type BrowserSession struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

type SessionOptions struct {
	// RemoteWS attaches to an existing DevTools websocket instead of
	// launching a local Chrome.
	RemoteWS string
	Headless bool
}

// NewBrowserSession launches (or attaches to) Chrome and waits for the
// target to come up.
func NewBrowserSession(parent context.Context, opts SessionOptions) (*BrowserSession, error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)

	if opts.RemoteWS != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(parent, opts.RemoteWS)
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.WindowSize(1440, 900),
			chromedp.Flag("headless", opts.Headless),
		)
		if !opts.Headless {
			execOpts = append(execOpts,
				chromedp.Flag("hide-scrollbars", false),
				chromedp.Flag("mute-audio", false),
			)
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(parent, execOpts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Run with no actions forces the browser to start now, so a broken
	// Chrome install or unreachable endpoint fails fast.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &BrowserSession{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

func (s *BrowserSession) Close() {
	s.browserCancel()
	s.allocCancel()
}

// run executes actions against the browser target, bounded by timeout and
// by the caller's context. A zero timeout means opTimeout.
func (s *BrowserSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = opTimeout
	}
	opCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// find is run with the element-wait contract: a deadline hit means the
// selector never matched, not that the browser broke.
func (s *BrowserSession) find(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	err := s.run(ctx, timeout, actions...)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return ErrElementNotFound
	}
	return err
}

func (s *BrowserSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, NavigateTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *BrowserSession) Reload(ctx context.Context) error {
	return s.run(ctx, NavigateTimeout, chromedp.Reload())
}

// WaitQuiet polls readyState until the document completes, then allows a
// short settle. ErrPageBusy after the window; chat apps with streaming
// connections routinely hit it.
func (s *BrowserSession) WaitQuiet(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var state string
		if err := s.run(ctx, 2*time.Second, chromedp.Evaluate("document.readyState", &state)); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				state = ""
			} else {
				return err
			}
		}
		if state == "complete" {
			return sleepCtx(ctx, 500*time.Millisecond)
		}
		if time.Now().After(deadline) {
			return ErrPageBusy
		}
		if err := sleepCtx(ctx, 250*time.Millisecond); err != nil {
			return err
		}
	}
}

func (s *BrowserSession) Click(ctx context.Context, selector string, timeout time.Duration) error {
	return s.find(ctx, timeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (s *BrowserSession) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	return s.find(ctx, timeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

var namedKeys = map[string]string{
	"Enter":      kb.Enter,
	"Escape":     kb.Escape,
	"Tab":        kb.Tab,
	"Backspace":  kb.Backspace,
	"ArrowDown":  kb.ArrowDown,
	"ArrowUp":    kb.ArrowUp,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Home":       kb.Home,
	"End":        kb.End,
	"PageDown":   kb.PageDown,
	"PageUp":     kb.PageUp,
}

// Press sends a key (or "Ctrl+Shift+s"-style chord) to the focused element.
func (s *BrowserSession) Press(ctx context.Context, key string) error {
	parts := strings.Split(key, "+")
	base := parts[len(parts)-1]

	var mods input.Modifier
	for _, part := range parts[:len(parts)-1] {
		switch strings.ToLower(part) {
		case "ctrl", "control":
			mods |= input.ModifierCtrl
		case "shift":
			mods |= input.ModifierShift
		case "alt":
			mods |= input.ModifierAlt
		}
	}

	seq := base
	if named, ok := namedKeys[base]; ok {
		seq = named
	}

	if mods != 0 {
		return s.run(ctx, opTimeout, chromedp.KeyEvent(seq, chromedp.KeyModifiers(mods)))
	}
	return s.run(ctx, opTimeout, chromedp.KeyEvent(seq))
}

func (s *BrowserSession) Count(ctx context.Context, selector string) (int, error) {
	var n int
	expr := fmt.Sprintf("document.querySelectorAll(%q).length", selector)
	if err := s.run(ctx, opTimeout, chromedp.Evaluate(expr, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *BrowserSession) BodyText(ctx context.Context) (string, error) {
	var text string
	expr := "document.body ? document.body.innerText : ''"
	if err := s.run(ctx, opTimeout, chromedp.Evaluate(expr, &text)); err != nil {
		return "", err
	}
	return text, nil
}

func (s *BrowserSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, opTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (s *BrowserSession) ScrollBy(ctx context.Context, dy int) error {
	expr := fmt.Sprintf("window.scrollBy(0, %d)", dy)
	return s.run(ctx, opTimeout, chromedp.Evaluate(expr, nil))
}

func (s *BrowserSession) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	return s.run(ctx, opTimeout, chromedp.ActionFunc(func(cctx context.Context) error {
		for _, c := range cookies {
			p := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure)
			if c.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				p = p.WithExpires(&expires)
			}
			switch strings.ToLower(c.SameSite) {
			case "strict":
				p = p.WithSameSite(network.CookieSameSiteStrict)
			case "lax":
				p = p.WithSameSite(network.CookieSameSiteLax)
			case "none":
				p = p.WithSameSite(network.CookieSameSiteNone)
			}
			if err := p.Do(cctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func (s *BrowserSession) SeedLocalStorage(ctx context.Context, items []session.StorageItem) error {
	if len(items) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, item := range items {
		fmt.Fprintf(&sb, "window.localStorage.setItem(%q, %q);", item.Name, item.Value)
	}
	return s.run(ctx, opTimeout, chromedp.Evaluate(sb.String(), nil))
}

// ExportCookies reads every cookie the browser holds, in the layout the
// storage-state snapshot uses.
func (s *BrowserSession) ExportCookies(ctx context.Context) ([]session.Cookie, error) {
	var out []session.Cookie
	err := s.run(ctx, opTimeout, chromedp.ActionFunc(func(cctx context.Context) error {
		cookies, err := storage.GetCookies().Do(cctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			sc := session.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			}
			switch c.SameSite {
			case network.CookieSameSiteStrict:
				sc.SameSite = "Strict"
			case network.CookieSameSiteLax:
				sc.SameSite = "Lax"
			case network.CookieSameSiteNone:
				sc.SameSite = "None"
			}
			out = append(out, sc)
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("export cookies: %w", err)
	}
	return out, nil
}

// ExportLocalStorage reads the current origin's localStorage.
func (s *BrowserSession) ExportLocalStorage(ctx context.Context) ([]session.StorageItem, error) {
	const expr = `(() => {
		const out = [];
		for (let i = 0; i < window.localStorage.length; i++) {
			const name = window.localStorage.key(i);
			out.push({name: name, value: window.localStorage.getItem(name)});
		}
		return out;
	})()`
	var items []session.StorageItem
	if err := s.run(ctx, opTimeout, chromedp.Evaluate(expr, &items)); err != nil {
		return nil, fmt.Errorf("export localStorage: %w", err)
	}
	return items, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Page = (*BrowserSession)(nil)
