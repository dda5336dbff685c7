// Package forwarder tails the runner's JSONL event log and replicates
// each completed line to the ingestion endpoint. Delivery is
// fire-and-forget and at-least-once: the log file plus a byte-offset
// sidecar are the only state it keeps.
package forwarder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	DefaultIngestURL    = "http://localhost:8000/ingest"
	DefaultPollInterval = 2 * time.Second

	requestTimeout = 5 * time.Second
)

// Config carries the forwarder's wiring. Zero values fall back to the
// defaults above; only LogPath is mandatory.
type Config struct {
	// LogPath is the JSONL file the runner appends to.
	LogPath string

	// IngestURL receives one POST per event line.
	IngestURL string

	// Token, when set, is sent as a bearer Authorization header.
	Token string

	// PollInterval is the fallback drain cadence for missed watch events.
	PollInterval time.Duration

	// OffsetPath overrides the sidecar location (default <LogPath>.offset).
	OffsetPath string
}

// Forwarder tails one log file. Not safe for concurrent Run calls.
type Forwarder struct {
	cfg    Config
	client *http.Client

	// next is the byte offset reading resumes from; partial holds the
	// bytes after the last newline, already counted into next.
	next    int64
	partial []byte

	// posts tracks in-flight deliveries so tests can observe completion.
	posts sync.WaitGroup
}

func New(cfg Config) (*Forwarder, error) {
	if cfg.LogPath == "" {
		return nil, errors.New("forwarder: log path is required")
	}
	if cfg.IngestURL == "" {
		cfg.IngestURL = DefaultIngestURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.OffsetPath == "" {
		cfg.OffsetPath = cfg.LogPath + ".offset"
	}
	return &Forwarder{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
	}, nil
}

// Run tails the log until the context is canceled. In-flight POSTs are
// not awaited on shutdown; losing them is within the delivery contract.
func (f *Forwarder) Run(ctx context.Context) error {
	f.next = f.loadOffset()
	if f.next > 0 {
		log.Printf("[FORWARD] resuming %s at byte %d", f.cfg.LogPath, f.next)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: the log may not exist yet, and
	// rotation replaces the inode a file-level watch would cling to.
	dir := filepath.Dir(f.cfg.LogPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	log.Printf("[FORWARD] tailing %s → %s", f.cfg.LogPath, f.cfg.IngestURL)
	f.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[FORWARD] shutting down at byte %d", f.Committed())
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(f.cfg.LogPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				f.drain(ctx)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[FORWARD] ✗ watch error: %v", err)

		case <-ticker.C:
			f.drain(ctx)
		}
	}
}

// Committed reports the offset of the first byte not yet shipped as a
// complete line. This is the value persisted to the sidecar.
func (f *Forwarder) Committed() int64 {
	return f.next - int64(len(f.partial))
}

// drain reads everything appended since the last position and forwards
// each completed line. Failures are logged and absorbed: a broken drain
// must not take the tail loop down.
func (f *Forwarder) drain(ctx context.Context) {
	info, err := os.Stat(f.cfg.LogPath)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		log.Printf("[FORWARD] ✗ stat %s: %v", f.cfg.LogPath, err)
		return
	}

	if info.Size() < f.next {
		log.Printf("[FORWARD] log truncated (%d → %d bytes), restarting from the top", f.next, info.Size())
		f.next = 0
		f.partial = nil
	}
	if info.Size() == f.next {
		return
	}

	chunk, err := f.readFrom(f.next)
	if err != nil {
		log.Printf("[FORWARD] ✗ read %s: %v", f.cfg.LogPath, err)
		return
	}
	f.next += int64(len(chunk))

	buf := append(f.partial, chunk...)
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := buf[:idx]
		buf = buf[idx+1:]
		if len(bytes.TrimSpace(line)) > 0 {
			f.ship(ctx, append([]byte(nil), line...))
		}
	}
	f.partial = append([]byte(nil), buf...)

	f.commitOffset()
}

func (f *Forwarder) readFrom(offset int64) ([]byte, error) {
	file, err := os.Open(f.cfg.LogPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(file)
}

// ship delivers one event line in its own goroutine. No retries and no
// queue: an unreachable or unhappy ingest endpoint costs the event, not
// the tail.
func (f *Forwarder) ship(ctx context.Context, line []byte) {
	f.posts.Add(1)
	go func() {
		defer f.posts.Done()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.IngestURL, bytes.NewReader(line))
		if err != nil {
			log.Printf("[FORWARD] ✗ build request: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if f.cfg.Token != "" {
			req.Header.Set("Authorization", "Bearer "+f.cfg.Token)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			log.Printf("[FORWARD] ✗ post failed: %v", err)
			return
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			log.Printf("[FORWARD] ✗ ingest rejected event: HTTP %d", resp.StatusCode)
			return
		}
		log.Printf("[FORWARD] ✓ forwarded %d bytes", len(line))
	}()
}

// loadOffset reads the sidecar. Anything wrong with it means byte 0:
// re-forwarding already-shipped events is fine, losing events is not.
func (f *Forwarder) loadOffset() int64 {
	data, err := os.ReadFile(f.cfg.OffsetPath)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || n < 0 {
		log.Printf("[FORWARD] ✗ malformed offset sidecar %s, starting at 0", f.cfg.OffsetPath)
		return 0
	}
	return n
}

// commitOffset persists the committed offset atomically so a crashed
// forwarder resumes at a line boundary.
func (f *Forwarder) commitOffset() {
	dir := filepath.Dir(f.cfg.OffsetPath)
	tmp, err := os.CreateTemp(dir, ".offset-*")
	if err != nil {
		log.Printf("[FORWARD] ✗ persist offset: %v", err)
		return
	}
	tmpName := tmp.Name()

	_, werr := fmt.Fprintf(tmp, "%d\n", f.Committed())
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmpName)
		log.Printf("[FORWARD] ✗ persist offset: write=%v close=%v", werr, cerr)
		return
	}
	if err := os.Rename(tmpName, f.cfg.OffsetPath); err != nil {
		os.Remove(tmpName)
		log.Printf("[FORWARD] ✗ persist offset: %v", err)
	}
}
