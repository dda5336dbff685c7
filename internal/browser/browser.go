// Package browser provisions the Chromium instance the driver attaches
// to. A Launcher turns a mode name into a DevTools endpoint; registration
// keeps the set of modes open for additional provisioners.
package browser

import (
	"context"
	"errors"
)

// Endpoint describes where the browser is reachable. An empty
// WebSocketURL means "no remote target": the driver launches a local
// Chrome through its exec allocator instead of attaching.
type Endpoint struct {
	WebSocketURL string
}

type Launcher interface {
	Start(ctx context.Context) (*Endpoint, error)
	Stop(ctx context.Context) error
	Kind() string
}

type Factory struct {
	launchers map[string]Launcher
}

func NewFactory() *Factory {
	return &Factory{launchers: make(map[string]Launcher)}
}

func (f *Factory) Register(kind string, l Launcher) {
	f.launchers[kind] = l
}

func (f *Factory) Get(kind string) (Launcher, bool) {
	l, ok := f.launchers[kind]
	return l, ok
}

func (f *Factory) Kinds() []string {
	kinds := make([]string, 0, len(f.launchers))
	for k := range f.launchers {
		kinds = append(kinds, k)
	}
	return kinds
}

var DefaultFactory = NewFactory()

func Register(kind string, l Launcher) {
	DefaultFactory.Register(kind, l)
}

func FromString(kind string) (Launcher, bool) {
	return DefaultFactory.Get(kind)
}

// LocalLauncher is the default mode: nothing to provision, the driver
// starts its own Chrome process.
type LocalLauncher struct{}

func (LocalLauncher) Kind() string { return "local" }

func (LocalLauncher) Start(ctx context.Context) (*Endpoint, error) {
	return &Endpoint{}, nil
}

func (LocalLauncher) Stop(ctx context.Context) error { return nil }

// RemoteLauncher attaches to a DevTools websocket somebody else runs.
type RemoteLauncher struct {
	URL string
}

func (l RemoteLauncher) Kind() string { return "remote" }

func (l RemoteLauncher) Start(ctx context.Context) (*Endpoint, error) {
	if l.URL == "" {
		return nil, errors.New("remote launcher: websocket URL is required")
	}
	return &Endpoint{WebSocketURL: l.URL}, nil
}

func (l RemoteLauncher) Stop(ctx context.Context) error { return nil }

func init() {
	Register("local", LocalLauncher{})
}
