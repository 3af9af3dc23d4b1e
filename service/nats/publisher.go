package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/mintctl/service/engine"
	"github.com/brojonat/mintctl/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing receipt and status events to NATS.
type Publisher interface {
	// PublishReceipt publishes a receipt event to the subject "receipts.{owner}".
	PublishReceipt(ctx context.Context, event *ReceiptEvent) error

	// PublishStatus publishes an operation status event to the subject
	// "status.{operation_id}".
	PublishStatus(ctx context.Context, event engine.Event) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// ReceiptStream holds accepted and verified receipts.
	ReceiptStream         = "RECEIPTS"
	ReceiptSubjects       = "receipts.*"
	ReceiptRetention      = 30 * 24 * time.Hour
	ReceiptSubjectPattern = "receipts.%s"

	// StatusStream holds per-operation progress events. They are only
	// interesting while an operation runs, so retention is short.
	StatusStream         = "OPERATIONS"
	StatusSubjects       = "status.*"
	StatusRetention      = 24 * time.Hour
	StatusSubjectPattern = "status.%s"
)

// Connect dials NATS with the reconnect policy shared by every component.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures both streams exist.
func NewPublisher(natsURL string, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := Connect(natsURL, "mintctl-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}

	streams := []jetstream.StreamConfig{
		{
			Name:        ReceiptStream,
			Description: "Confirmed token operation receipts",
			Subjects:    []string{ReceiptSubjects},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      ReceiptRetention,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
		},
		{
			Name:        StatusStream,
			Description: "Token operation progress events",
			Subjects:    []string{StatusSubjects},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      StatusRetention,
			Storage:     jetstream.MemoryStorage,
			Replicas:    1,
		},
	}
	for _, cfg := range streams {
		if err := publisher.ensureStream(cfg); err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to ensure stream %s exists: %w", cfg.Name, err)
		}
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"streams", []string{ReceiptStream, StatusStream},
	)

	return publisher, nil
}

// WithMetrics records publish latency and outcome per subject.
func (p *JetStreamPublisher) WithMetrics(m *metrics.Metrics) *JetStreamPublisher {
	p.metrics = m
	return p
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream(cfg jetstream.StreamConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, cfg.Name)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", cfg.Name,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", cfg.Name)
	if _, err := p.js.CreateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishReceipt publishes a single receipt event.
func (p *JetStreamPublisher) PublishReceipt(ctx context.Context, event *ReceiptEvent) error {
	subject := fmt.Sprintf(ReceiptSubjectPattern, event.Owner)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt event: %w", err)
	}

	start := time.Now()
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.metrics.RecordNATSPublish(ReceiptSubjects, "error", time.Since(start).Seconds())
		return fmt.Errorf("failed to publish receipt: %w", err)
	}
	p.metrics.RecordNATSPublish(ReceiptSubjects, "success", time.Since(start).Seconds())

	p.logger.DebugContext(ctx, "published receipt event",
		"subject", subject,
		"signature", event.Signature,
		"verification", event.VerificationStatus,
	)
	return nil
}

// PublishStatus publishes a single status event.
func (p *JetStreamPublisher) PublishStatus(ctx context.Context, event engine.Event) error {
	subject := fmt.Sprintf(StatusSubjectPattern, event.OperationID)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	start := time.Now()
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.metrics.RecordNATSPublish(StatusSubjects, "error", time.Since(start).Seconds())
		return fmt.Errorf("failed to publish status: %w", err)
	}
	p.metrics.RecordNATSPublish(StatusSubjects, "success", time.Since(start).Seconds())
	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}

// StatusSink forwards engine status events to NATS. Publish failures are
// logged and never interrupt the operation.
func StatusSink(p Publisher, logger *slog.Logger) engine.Sink {
	return engine.SinkFunc(func(ctx context.Context, ev engine.Event) {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := p.PublishStatus(pubCtx, ev); err != nil {
			logger.WarnContext(ctx, "failed to publish status event",
				"operation_id", ev.OperationID,
				"stage", ev.Stage,
				"error", err,
			)
		}
	})
}
