// Package audit ships structured records of roster changes (signups and unregistrations)
// to destinations outside the application log. Records go to one or more Shippers (a
// JSON-lines file, a webhook, an S3 bucket or a Kafka topic) so the school office can
// reconstruct who joined or left an activity even though the registry is never persisted.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrShipperClosed is returned by Ship once Close has been called.
var ErrShipperClosed = errors.New("audit shipper closed")

// LogEntry represents a structured audit log entry for one roster request
type LogEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	Action     string                 `json:"action"` // e.g. "activity.signup"
	Activity   string                 `json:"activity,omitempty"`
	Email      string                 `json:"email,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	StatusCode int                    `json:"status_code,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Shipper defines the interface for audit log shipping
type Shipper interface {
	// Ship sends an audit log entry to the destination
	Ship(ctx context.Context, entry *LogEntry) error
	// Close flushes and releases any resources
	Close() error
}

// ShipperConfig holds configuration for one audit shipper
type ShipperConfig struct {
	// Enabled determines if this shipper is active
	Enabled bool `json:"enabled"`
	// Type is the shipper type (webhook, file, s3, kafka)
	Type string `json:"type"`
	// Webhook configuration
	Webhook *WebhookConfig `json:"webhook,omitempty"`
	// File configuration
	File *FileConfig `json:"file,omitempty"`
	// S3 configuration
	S3 *S3Config `json:"s3,omitempty"`
	// Kafka configuration
	Kafka *KafkaConfig `json:"kafka,omitempty"`
}

// MultiShipper ships to multiple destinations
type MultiShipper struct {
	shippers []Shipper
	closed   bool
	mu       sync.RWMutex
}

// NewMultiShipper creates a new multi-shipper from configs. Disabled configs are skipped.
func NewMultiShipper(configs []ShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{
		shippers: make([]Shipper, 0, len(configs)),
	}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File)
		case "s3":
			if cfg.S3 == nil {
				return nil, fmt.Errorf("s3 config is required for s3 shipper")
			}
			shipper, err = NewS3Shipper(cfg.S3)
		case "kafka":
			if cfg.Kafka == nil {
				return nil, fmt.Errorf("kafka config is required for kafka shipper")
			}
			shipper, err = NewKafkaShipper(cfg.Kafka)
		default:
			err = fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}

		if err != nil {
			_ = ms.Close()
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}

		ms.shippers = append(ms.shippers, shipper)
	}

	return ms, nil
}

// Len returns the number of active shippers.
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends an entry to all configured shippers. Every shipper is attempted; the
// returned error joins the individual failures.
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.closed {
		return ErrShipperClosed
	}

	var errs []error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, entry); err != nil {
			slog.Warn("audit shipper error", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close waits for in-progress Ship calls, then closes all shippers. Later Ship calls fail
// with ErrShipperClosed.
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return nil
	}
	ms.closed = true

	var errs []error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
