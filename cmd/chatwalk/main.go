package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/autocrawlerHQ/chatwalk/internal/artifacts"
	"github.com/autocrawlerHQ/chatwalk/internal/browser"
	dockerbrowser "github.com/autocrawlerHQ/chatwalk/internal/browser/docker"
	"github.com/autocrawlerHQ/chatwalk/internal/driver"
	"github.com/autocrawlerHQ/chatwalk/internal/events"
	"github.com/autocrawlerHQ/chatwalk/internal/forwarder"
	"github.com/autocrawlerHQ/chatwalk/internal/script"
	"github.com/autocrawlerHQ/chatwalk/internal/session"
)

var (
	serverURL string
	apiToken  string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "chatwalk",
		Short: "Chatwalk CLI for scripted chat-app walkthroughs",
		Long:  `Chatwalk drives a fixed walkthrough against a chat application, records the run as an event trace with screenshots, and ships the trace to an ingestion service`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "Ingestion service URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "Ingestion service bearer token")

	// Bind flags to viper
	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	// Environment variable support
	viper.SetEnvPrefix("CHATWALK")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Add commands
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(forwardCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(eventsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "run",
		Short: "Run the chat application walkthrough",
		Long:  `Run the fixed walkthrough against the target chat application, emitting the event trace and screenshots as it goes. The browser stays open for inspection afterwards; send SIGINT/SIGTERM to exit.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWalkthrough()
		},
	}

	cmd.Flags().String("url", "http://localhost:3080", "Chat application base URL")
	cmd.Flags().Bool("headless", false, "Run the browser headless")
	cmd.Flags().Bool("debug", false, "Pause for Enter at debug checkpoints")
	cmd.Flags().String("screenshot-dir", "./artifacts", "Directory screenshots land in")
	cmd.Flags().String("event-log", "./events.jsonl", "Append-only JSONL event log")
	cmd.Flags().String("session-file", "./auth.json", "Storage-state snapshot to restore")
	cmd.Flags().String("email", "", "Login email")
	cmd.Flags().String("password", "", "Login password")
	cmd.Flags().String("browser", "local", "Browser mode: local, remote, or docker")
	cmd.Flags().String("remote-ws", "", "DevTools websocket URL for --browser=remote")
	cmd.Flags().String("browser-image", "", "Container image for --browser=docker")
	cmd.Flags().String("artifact-backend", "local", "Artifact store backend: local or s3")
	cmd.Flags().String("artifact-bucket", "", "S3 bucket for --artifact-backend=s3")

	return cmd
}

func forwardCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "forward",
		Short: "Forward the event log to the ingestion service",
		Long:  `Tail the walkthrough's JSONL event log and post each complete line to the ingestion endpoint. Runs until interrupted.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForwarder()
		},
	}

	cmd.Flags().String("log", "./events.jsonl", "JSONL event log to tail")
	cmd.Flags().String("ingest-url", forwarder.DefaultIngestURL, "Ingestion endpoint")
	cmd.Flags().Duration("poll", forwarder.DefaultPollInterval, "Fallback poll interval")
	cmd.Flags().String("offset-file", "", "Offset sidecar path (default <log>.offset)")

	return cmd
}

func sessionCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "session",
		Short: "Session state management commands",
		Long:  `Commands for capturing and reusing authenticated browser sessions`,
	}

	cmd.AddCommand(sessionCaptureCmd())

	return cmd
}

func sessionCaptureCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "capture",
		Short: "Capture a session snapshot",
		Long:  `Log in headfully and write the storage-state snapshot later runs restore from`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return captureSession()
		},
	}

	cmd.Flags().String("url", "http://localhost:3080", "Chat application base URL")
	cmd.Flags().String("email", "", "Login email")
	cmd.Flags().String("password", "", "Login password")
	cmd.Flags().String("out", "./auth.json", "Where to write the snapshot")

	return cmd
}

func eventsCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "events",
		Short: "Query the ingestion service",
		Long:  `Commands for reading stored run traces back out of the ingestion service`,
	}

	cmd.AddCommand(eventsListCmd())
	cmd.AddCommand(eventsStatsCmd())

	return cmd
}

func eventsListCmd() *cobra.Command {
	var kind string
	var limit, offset int
	var cmd = &cobra.Command{
		Use:   "list",
		Short: "List stored events",
		Long:  `List stored events in emission order`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listStoredEvents(kind, offset, limit)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Filter by event kind")
	cmd.Flags().IntVar(&offset, "offset", 0, "Events to skip")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum events to return")

	return cmd
}

func eventsStatsCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "stats",
		Short: "Show event totals",
		Long:  `Show total and per-kind event counts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showEventStats()
		},
	}

	return cmd
}

// Implementation functions

func runWalkthrough() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseURL := strings.TrimRight(viper.GetString("url"), "/")
	headless := viper.GetBool("headless")

	// Two sinks: stdout for the operator, the append-only log for the
	// forwarder.
	fileSink, err := events.NewFileSink(viper.GetString("event-log"))
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	sink := events.NewMultiSink(events.NewConsoleSink(nil), fileSink)
	defer sink.Close()

	store, err := artifacts.New(artifacts.Config{
		Provider: viper.GetString("artifact-backend"),
		Dir:      viper.GetString("screenshot-dir"),
		Bucket:   viper.GetString("artifact-bucket"),
	})
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}
	defer store.Close()

	browser.Register("remote", browser.RemoteLauncher{URL: viper.GetString("remote-ws")})
	browser.Register("docker", dockerbrowser.NewLauncher(viper.GetString("browser-image")))

	mode := viper.GetString("browser")
	launcher, ok := browser.FromString(mode)
	if !ok {
		return fmt.Errorf("unknown browser mode %q (have: %s)", mode, strings.Join(browser.DefaultFactory.Kinds(), ", "))
	}

	endpoint, err := launcher.Start(ctx)
	if err != nil {
		return fmt.Errorf("provision browser: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := launcher.Stop(stopCtx); err != nil {
			log.Printf("[BROWSER] stop: %v", err)
		}
	}()

	page, err := driver.NewBrowserSession(ctx, driver.SessionOptions{
		RemoteWS: endpoint.WebSocketURL,
		Headless: headless,
	})
	if err != nil {
		return fmt.Errorf("browser session: %w", err)
	}
	defer page.Close()

	runner := driver.NewRunner(page, sink, store, driver.Config{
		BaseURL:  baseURL,
		Email:    viper.GetString("email"),
		Password: viper.GetString("password"),
		Headless: headless,
		Debug:    viper.GetBool("debug"),
	})

	if st, err := session.Load(viper.GetString("session-file")); err != nil {
		log.Printf("[RUNNER] session state unusable, continuing without: %v", err)
	} else if !st.Empty() {
		if err := runner.SetSession(ctx, st); err != nil {
			log.Printf("[RUNNER] session restore failed, continuing without: %v", err)
		}
	}

	runErr := runner.Run(ctx, script.ChatWalkthrough())

	// Hold with the browser open either way: an aborted run is exactly
	// when the page is worth looking at.
	runner.HoldForInspection(ctx)

	return runErr
}

func runForwarder() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fwd, err := forwarder.New(forwarder.Config{
		LogPath:      viper.GetString("log"),
		IngestURL:    viper.GetString("ingest-url"),
		Token:        viper.GetString("token"),
		PollInterval: viper.GetDuration("poll"),
		OffsetPath:   viper.GetString("offset-file"),
	})
	if err != nil {
		return err
	}

	return fwd.Run(ctx)
}

func captureSession() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseURL := strings.TrimRight(viper.GetString("url"), "/")
	out := viper.GetString("out")

	page, err := driver.NewBrowserSession(ctx, driver.SessionOptions{Headless: false})
	if err != nil {
		return fmt.Errorf("browser session: %w", err)
	}
	defer page.Close()

	// Login screenshots are throwaway; park them under the temp dir.
	store, err := artifacts.NewLocalStore(filepath.Join(os.TempDir(), "chatwalk-capture"))
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}
	defer store.Close()

	runner := driver.NewRunner(page, events.NewConsoleSink(nil), store, driver.Config{
		BaseURL:  baseURL,
		Email:    viper.GetString("email"),
		Password: viper.GetString("password"),
	})

	if err := runner.Run(ctx, script.LoginFlow()); err != nil {
		return fmt.Errorf("login flow: %w", err)
	}

	cookies, err := page.ExportCookies(ctx)
	if err != nil {
		return err
	}
	items, err := page.ExportLocalStorage(ctx)
	if err != nil {
		return err
	}

	st := &session.State{Cookies: cookies}
	if len(items) > 0 {
		st.Origins = []session.Origin{{Origin: baseURL, LocalStorage: items}}
	}
	if err := session.Save(out, st); err != nil {
		return err
	}

	log.Printf("[SESSION] ✓ captured %d cookie(s) and %d localStorage item(s) → %s", len(cookies), len(items), out)
	return nil
}

func listStoredEvents(kind string, offset, limit int) error {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", kind)
	}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	resp, err := apiRequest("GET", "/events?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	items, _ := resp["events"].([]interface{})
	if len(items) == 0 {
		fmt.Println("No events found")
		return nil
	}

	fmt.Printf("%-26s %-18s %s\n", "TS", "KIND", "PAYLOAD")
	fmt.Println(strings.Repeat("-", 100))

	for _, it := range items {
		ev, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		payload, _ := json.Marshal(ev["payload"])
		fmt.Printf("%-26v %-18v %s\n", ev["ts"], ev["kind"], payload)
	}

	return nil
}

func showEventStats() error {
	resp, err := apiRequest("GET", "/events/stats", nil)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Printf("Total events: %v\n", resp["total"])

	kinds, _ := resp["kinds"].([]interface{})
	if len(kinds) == 0 {
		return nil
	}

	fmt.Printf("\n%-24s %s\n", "KIND", "COUNT")
	fmt.Println(strings.Repeat("-", 40))
	for _, k := range kinds {
		kc, ok := k.(map[string]interface{})
		if !ok {
			continue
		}
		fmt.Printf("%-24v %v\n", kc["kind"], kc["count"])
	}

	return nil
}

func apiRequest(method, path string, body interface{}) (map[string]interface{}, error) {
	url := viper.GetString("server") + path
	token := viper.GetString("token")

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respData))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return result, nil
}
