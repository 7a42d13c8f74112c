package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// WebhookConfig holds webhook shipper configuration
type WebhookConfig struct {
	// URL receives a POST per entry, or per batch when BatchSize > 0
	URL string `json:"url"`
	// Headers are added to every request (e.g. a shared secret for the office endpoint)
	Headers map[string]string `json:"headers,omitempty"`
	// Timeout bounds each POST (default 10s)
	Timeout time.Duration `json:"timeout"`
	// BatchSize groups entries into a JSON array; 0 posts each entry on its own
	BatchSize int `json:"batch_size"`
	// FlushInterval posts a partial batch after this long (default 5s)
	FlushInterval time.Duration `json:"flush_interval"`
}

// webhookQueueSize caps entries waiting for the batcher. Beyond it Ship posts directly.
const webhookQueueSize = 1000

// WebhookShipper posts roster changes to an HTTP endpoint, typically the school office's
// intake service. Unbatched, Ship posts one JSON object and reports delivery errors to
// the caller. Batched, entries are queued for a single batching goroutine that posts JSON
// arrays and logs delivery errors itself.
type WebhookShipper struct {
	cfg    *WebhookConfig
	client *http.Client

	queue   chan *LogEntry
	pending []*LogEntry // owned by run

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewWebhookShipper creates a webhook shipper and, when batching, starts its batcher.
func NewWebhookShipper(cfg *WebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	ws := &WebhookShipper{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		queue:   make(chan *LogEntry, webhookQueueSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if cfg.BatchSize > 0 {
		go ws.run()
	} else {
		close(ws.stopped)
	}
	return ws, nil
}

func (ws *WebhookShipper) batching() bool { return ws.cfg.BatchSize > 0 }

// Ship queues the entry when batching, otherwise posts it right away.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	select {
	case <-ws.stop:
		return ErrShipperClosed
	default:
	}

	if ws.batching() {
		select {
		case ws.queue <- entry:
			return nil
		default:
			slog.Warn("audit webhook queue full, posting entry directly", "url", ws.cfg.URL)
		}
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	return ws.post(ctx, payload)
}

func (ws *WebhookShipper) run() {
	defer close(ws.stopped)

	ticker := time.NewTicker(ws.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-ws.queue:
			ws.pending = append(ws.pending, entry)
			if len(ws.pending) >= ws.cfg.BatchSize {
				ws.flush()
			}
		case <-ticker.C:
			ws.flush()
		case <-ws.stop:
			for {
				select {
				case entry := <-ws.queue:
					ws.pending = append(ws.pending, entry)
				default:
					ws.flush()
					return
				}
			}
		}
	}
}

// flush posts everything pending as one JSON array.
func (ws *WebhookShipper) flush() {
	if len(ws.pending) == 0 {
		return
	}
	defer func() { ws.pending = ws.pending[:0] }()

	payload, err := json.Marshal(ws.pending)
	if err != nil {
		slog.Error("failed to marshal audit batch", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.cfg.Timeout)
	defer cancel()
	if err := ws.post(ctx, payload); err != nil {
		slog.Error("failed to post audit batch", "entries", len(ws.pending), "error", err)
	}
}

func (ws *WebhookShipper) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close rejects further entries, then waits for the batcher to post what is left.
func (ws *WebhookShipper) Close() error {
	ws.stopOnce.Do(func() { close(ws.stop) })
	<-ws.stopped
	return nil
}
