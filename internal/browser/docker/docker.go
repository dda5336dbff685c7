// Package docker provisions a throwaway headless-shell container and
// exposes its DevTools endpoint on a host-mapped port.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/autocrawlerHQ/chatwalk/internal/browser"
)

const (
	DefaultImage = "chromedp/headless-shell:latest"

	devtoolsPort   = 9222
	containerLabel = "com.chatwalk.browser"
)

type Launcher struct {
	cli           *client.Client
	image         string
	healthTimeout time.Duration

	containerID string
	hostPort    int
}

func NewLauncher(image string) *Launcher {
	if image == "" {
		image = DefaultImage
	}
	return &Launcher{
		image:         image,
		healthTimeout: 30 * time.Second,
	}
}

func (l *Launcher) Kind() string { return "docker" }

func (l *Launcher) keepContainers() bool {
	return strings.ToLower(os.Getenv("CHATWALK_KEEP_CONTAINERS")) == "true"
}

// Start creates the container, waits for the DevTools endpoint to answer,
// and returns the host-reachable websocket URL.
func (l *Launcher) Start(ctx context.Context) (*browser.Endpoint, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	l.cli = cli

	if err := l.ensureImage(ctx); err != nil {
		return nil, err
	}

	runID := uuid.New().String()[:8]
	name := "chatwalk-browser-" + runID

	containerConfig := &container.Config{
		Image: l.image,
		Labels: map[string]string{
			containerLabel: runID,
		},
		ExposedPorts: natSet(fmt.Sprintf("%d/tcp", devtoolsPort)),
	}
	hostConfig := &container.HostConfig{
		AutoRemove:   false,
		PortBindings: natMap(devtoolsPort, 0),
		Tmpfs:        map[string]string{"/dev/shm": "rw,size=1g"},
	}

	resp, err := l.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create browser container: %w", err)
	}
	l.containerID = resp.ID

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, l.abortStart(ctx, fmt.Errorf("start browser container: %w", err))
	}

	hostPort, err := l.waitForPort(ctx, resp.ID)
	if err != nil {
		return nil, l.abortStart(ctx, err)
	}
	l.hostPort = hostPort

	wsURL, err := l.waitForDevtools(ctx, hostPort)
	if err != nil {
		return nil, l.abortStart(ctx, err)
	}

	return &browser.Endpoint{WebSocketURL: wsURL}, nil
}

// Stop removes every container carrying this run's label, then the
// recorded ID as a fallback. CHATWALK_KEEP_CONTAINERS=true leaves them
// around for postmortems.
func (l *Launcher) Stop(ctx context.Context) error {
	if l.cli == nil || l.containerID == "" || l.keepContainers() {
		return nil
	}

	filterArgs := filters.NewArgs()
	filterArgs.Add("label", containerLabel)
	found, err := l.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: filterArgs})
	if err == nil {
		for _, c := range found {
			_ = l.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true})
		}
	}
	_ = l.cli.ContainerRemove(ctx, l.containerID, container.RemoveOptions{Force: true})
	l.containerID = ""
	return nil
}

func (l *Launcher) ensureImage(ctx context.Context) error {
	rd, err := l.cli.ImagePull(ctx, l.image, image.PullOptions{})
	if err != nil {
		// Offline is fine as long as the image is already present.
		if _, inspectErr := l.cli.ImageInspect(ctx, l.image); inspectErr == nil {
			return nil
		}
		return fmt.Errorf("pull %s: %w", l.image, err)
	}
	defer rd.Close()
	_, _ = io.Copy(io.Discard, rd)
	return nil
}

func (l *Launcher) waitForPort(ctx context.Context, containerID string) (int, error) {
	deadline := time.Now().Add(l.healthTimeout)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		inspect, err := l.cli.ContainerInspect(ctx, containerID)
		if err != nil {
			return 0, err
		}
		if inspect.State.Running {
			for pc, bindings := range inspect.NetworkSettings.Ports {
				if pc.Int() != devtoolsPort || len(bindings) == 0 {
					continue
				}
				if port, _ := strconv.Atoi(bindings[0].HostPort); port > 0 {
					return port, nil
				}
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return 0, fmt.Errorf("browser container did not expose port %d within %s", devtoolsPort, l.healthTimeout)
}

// waitForDevtools polls /json/version until Chrome answers, then rewrites
// the advertised websocket URL onto the host-mapped port.
func (l *Launcher) waitForDevtools(ctx context.Context, hostPort int) (string, error) {
	httpClient := &http.Client{Timeout: 2 * time.Second}
	versionURL := fmt.Sprintf("http://127.0.0.1:%d/json/version", hostPort)
	deadline := time.Now().Add(l.healthTimeout)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		wsURL, err := fetchDebuggerURL(ctx, httpClient, versionURL)
		if err == nil {
			return rewriteAuthority(wsURL, hostPort)
		}
		time.Sleep(200 * time.Millisecond)
	}
	return "", fmt.Errorf("devtools endpoint not ready within %s", l.healthTimeout)
}

func fetchDebuggerURL(ctx context.Context, httpClient *http.Client, versionURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("devtools version endpoint: %s", resp.Status)
	}

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return "", err
	}
	if version.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("devtools version endpoint returned no websocket URL")
	}
	return version.WebSocketDebuggerURL, nil
}

// rewriteAuthority swaps the container-internal host:port Chrome
// advertises for the address mapped on this machine.
func rewriteAuthority(wsURL string, hostPort int) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse debugger URL %q: %w", wsURL, err)
	}
	u.Host = fmt.Sprintf("127.0.0.1:%d", hostPort)
	return u.String(), nil
}

func (l *Launcher) abortStart(ctx context.Context, rootErr error) error {
	if l.containerID != "" && !l.keepContainers() {
		_ = l.cli.ContainerRemove(ctx, l.containerID, container.RemoveOptions{Force: true})
		l.containerID = ""
	}
	return rootErr
}

func natSet(ports ...string) nat.PortSet {
	ps := nat.PortSet{}
	for _, p := range ports {
		ps[nat.Port(p)] = struct{}{}
	}
	return ps
}

func natMap(containerPort, hostPort int) nat.PortMap {
	pm := nat.PortMap{}
	cp := nat.Port(strconv.Itoa(containerPort) + "/tcp")
	pm[cp] = []nat.PortBinding{{
		HostIP:   "0.0.0.0",
		HostPort: strconv.Itoa(hostPort),
	}}
	return pm
}

var _ browser.Launcher = (*Launcher)(nil)
