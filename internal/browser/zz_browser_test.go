package browser

import (
	"context"
	"testing"
)

func TestFactoryRegisterAndGet(t *testing.T) {
	f := NewFactory()
	f.Register("remote", RemoteLauncher{URL: "ws://127.0.0.1:9222"})

	l, ok := f.Get("remote")
	if !ok {
		t.Fatal("registered launcher not found")
	}
	if l.Kind() != "remote" {
		t.Errorf("kind = %q", l.Kind())
	}

	if _, ok := f.Get("kubernetes"); ok {
		t.Error("unknown kind resolved")
	}
	if got := len(f.Kinds()); got != 1 {
		t.Errorf("kinds = %d, want 1", got)
	}
}

func TestDefaultFactoryHasLocal(t *testing.T) {
	l, ok := FromString("local")
	if !ok {
		t.Fatal("local launcher not registered by default")
	}
	ep, err := l.Start(context.Background())
	if err != nil {
		t.Fatalf("local start: %v", err)
	}
	if ep.WebSocketURL != "" {
		t.Errorf("local endpoint advertises %q, want none", ep.WebSocketURL)
	}
	if err := l.Stop(context.Background()); err != nil {
		t.Errorf("local stop: %v", err)
	}
}

func TestRemoteLauncher(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{
			name: "configured endpoint",
			url:  "ws://10.0.0.5:9222/devtools/browser/abc",
		},
		{
			name:    "missing endpoint",
			url:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := RemoteLauncher{URL: tt.url}.Start(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			if ep.WebSocketURL != tt.url {
				t.Errorf("endpoint = %q, want %q", ep.WebSocketURL, tt.url)
			}
		})
	}
}
