// Package event publishes pipeline events to NATS JetStream.
// Asset uploads and ledger transaction transitions are streamed so downstream
// indexers can follow publication without polling the ledger.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/vidverse/vidverse-go/internal/metrics"
	"github.com/vidverse/vidverse-go/internal/model"
)

const (
	// SubjectAssetsStored carries an UploadResult once assets and metadata are stored.
	SubjectAssetsStored = "vv.assets.stored"
	// subjectLedgerPrefix is followed by the transaction status.
	subjectLedgerPrefix = "vv.ledger."
)

// Publisher defines the event publishing operations required by the pipeline.
type Publisher interface {
	// PublishAssetsStored announces a finished upload for account.
	PublishAssetsStored(ctx context.Context, account string, result model.UploadResult) error
	// PublishTransaction announces a journal entry in its current status.
	PublishTransaction(ctx context.Context, tx model.Transaction) error
	// Close closes the publisher connection
	Close() error
}

// EventEnvelope represents the standard event envelope structure.
// All events published to NATS are wrapped in this envelope for consistency.
type EventEnvelope struct {
	Type          string      `json:"type"`          // Event type identifier
	Version       string      `json:"version"`       // Event schema version
	OccurredAt    time.Time   `json:"occurredAt"`    // When the event occurred
	CorrelationID string      `json:"correlationId"` // Correlation ID for tracing
	Payload       interface{} `json:"payload"`       // Event-specific data
}

// AssetsStored is the payload of SubjectAssetsStored.
type AssetsStored struct {
	Account string             `json:"account"`
	Upload  model.UploadResult `json:"upload"`
}

type correlationKey struct{}

// WithCorrelationID returns ctx carrying id for event envelopes.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id carried by ctx, or a fresh one.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

func newEnvelope(ctx context.Context, typ string, payload interface{}) EventEnvelope {
	return EventEnvelope{
		Type:          typ,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: CorrelationID(ctx),
		Payload:       payload,
	}
}

// LedgerSubject returns the subject for a transaction in status.
func LedgerSubject(status string) string {
	return subjectLedgerPrefix + status
}

// noop is a no-op implementation of Publisher for when NATS is not configured.
type noop struct{}

// Noop returns a publisher that drops every event.
func Noop() Publisher { return &noop{} }

func (n *noop) Close() error { return nil }

func (n *noop) PublishAssetsStored(ctx context.Context, account string, result model.UploadResult) error {
	return nil
}

func (n *noop) PublishTransaction(ctx context.Context, tx model.Transaction) error { return nil }

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc      *nats.Conn            // NATS connection
	js      nats.JetStreamContext // JetStream context for stream operations
	metrics *metrics.Metrics

	// Deduplication of repeated publishes within a short window
	dedup map[string]time.Time
	mutex sync.Mutex
}

// NewPublisher connects to url and prepares the streams. An empty url, or any
// connection failure, yields a no-op publisher: events never block the pipeline.
func NewPublisher(url string, m *metrics.Metrics, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		return &noop{}
	}

	nc, err := nats.Connect(url, nats.Name("vidverse"))
	if err != nil {
		logger.Warn("NATS connect failed, using noop publisher", "error", err)
		return &noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		logger.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	if err := initStreams(js); err != nil {
		logger.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	return &natsPub{
		nc:      nc,
		js:      js,
		metrics: m,
		dedup:   make(map[string]time.Time),
	}
}

// initStreams creates the VV_ASSETS and VV_LEDGER streams.
func initStreams(js nats.JetStreamContext) error {
	streams := []*nats.StreamConfig{
		{
			Name:      "VV_ASSETS",
			Subjects:  []string{"vv.assets.*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Discard:   nats.DiscardOld,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "VV_LEDGER",
			Subjects:  []string{"vv.ledger.*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Discard:   nats.DiscardOld,
			Storage:   nats.FileStorage,
		},
	}
	for _, cfg := range streams {
		if _, err := js.AddStream(cfg); err != nil {
			return fmt.Errorf("failed to create %s stream: %w", cfg.Name, err)
		}
	}
	return nil
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		return p.nc.Drain()
	}
	return nil
}

// seen reports whether key was published within the last two minutes and records it otherwise.
func (p *natsPub) seen(key string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	cutoff := now.Add(-5 * time.Minute)
	for k, t := range p.dedup {
		if t.Before(cutoff) {
			delete(p.dedup, k)
		}
	}
	if last, ok := p.dedup[key]; ok && now.Sub(last) < 2*time.Minute {
		return true
	}
	p.dedup[key] = now
	return false
}

func (p *natsPub) forget(key string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.dedup, key)
}

func (p *natsPub) publish(ctx context.Context, subject, dedupKey string, payload interface{}) error {
	if p.seen(dedupKey) {
		return nil
	}

	start := time.Now()
	b, err := json.Marshal(newEnvelope(ctx, subject, payload))
	if err == nil {
		// Msg-Id lets JetStream drop duplicates across restarts too.
		_, err = p.js.Publish(subject, b, nats.Context(ctx), nats.MsgId(dedupKey))
	}
	p.metrics.ObserveEventPublish(subject, metrics.Status(err), time.Since(start))
	if err != nil {
		p.forget(dedupKey)
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// PublishAssetsStored implements Publisher.
func (p *natsPub) PublishAssetsStored(ctx context.Context, account string, result model.UploadResult) error {
	return p.publish(ctx, SubjectAssetsStored, assetsKey(account, result),
		AssetsStored{Account: account, Upload: result})
}

// PublishTransaction implements Publisher.
func (p *natsPub) PublishTransaction(ctx context.Context, tx model.Transaction) error {
	return p.publish(ctx, LedgerSubject(tx.Status), txKey(tx), tx)
}

// assetsKey scopes an asset announcement to its account: metadata CIDs are
// content-addressed, so two accounts storing identical content share one.
func assetsKey(account string, result model.UploadResult) string {
	return "assets:" + strings.ToLower(account) + ":" + result.MetadataCID
}

func txKey(tx model.Transaction) string {
	return "tx:" + tx.Hash + ":" + tx.Status
}
