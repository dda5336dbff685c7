package docker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLauncher(t *testing.T) {
	tests := []struct {
		name  string
		image string
		want  string
	}{
		{
			name:  "default image",
			image: "",
			want:  DefaultImage,
		},
		{
			name:  "custom image",
			image: "chromedp/headless-shell:131.0.6778.87",
			want:  "chromedp/headless-shell:131.0.6778.87",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLauncher(tt.image)
			assert.Equal(t, tt.want, l.image)
			assert.Equal(t, "docker", l.Kind())
		})
	}
}

func TestNatSet(t *testing.T) {
	result := natSet("9222/tcp")
	require.Len(t, result, 1)
	_, exists := result[nat.Port("9222/tcp")]
	assert.True(t, exists)
}

func TestNatMap(t *testing.T) {
	tests := []struct {
		name          string
		containerPort int
		hostPort      int
		expectedKey   string
		expectedHost  string
	}{
		{
			name:          "random host port",
			containerPort: 9222,
			hostPort:      0,
			expectedKey:   "9222/tcp",
			expectedHost:  "0",
		},
		{
			name:          "pinned host port",
			containerPort: 9222,
			hostPort:      9333,
			expectedKey:   "9222/tcp",
			expectedHost:  "9333",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := natMap(tt.containerPort, tt.hostPort)
			bindings, exists := result[nat.Port(tt.expectedKey)]
			require.True(t, exists)
			require.Len(t, bindings, 1)
			assert.Equal(t, "0.0.0.0", bindings[0].HostIP)
			assert.Equal(t, tt.expectedHost, bindings[0].HostPort)
		})
	}
}

func TestRewriteAuthority(t *testing.T) {
	tests := []struct {
		name     string
		wsURL    string
		hostPort int
		want     string
	}{
		{
			name:     "container address replaced",
			wsURL:    "ws://172.17.0.2:9222/devtools/browser/6b9f",
			hostPort: 32768,
			want:     "ws://127.0.0.1:32768/devtools/browser/6b9f",
		},
		{
			name:     "loopback with internal port",
			wsURL:    "ws://127.0.0.1:9222/devtools/browser/abc",
			hostPort: 40001,
			want:     "ws://127.0.0.1:40001/devtools/browser/abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rewriteAuthority(tt.wsURL, tt.hostPort)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWaitForDevtools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/json/version", r.URL.Path)
		fmt.Fprintf(w, `{"Browser":"HeadlessChrome/131.0.0.0","webSocketDebuggerUrl":"ws://172.17.0.2:9222/devtools/browser/6b9f"}`)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	l := NewLauncher("")
	l.healthTimeout = 3 * time.Second

	wsURL, err := l.waitForDevtools(context.Background(), port)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("ws://127.0.0.1:%d/devtools/browser/6b9f", port), wsURL)
}

func TestWaitForDevtoolsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	l := NewLauncher("")
	l.healthTimeout = 500 * time.Millisecond

	_, err = l.waitForDevtools(context.Background(), port)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
}
