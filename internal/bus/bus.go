// Package bus provides event bus implementations for Watchpost.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/watchpost/internal/domain"
)

// AllHomes subscribes to a topic across every home. It cannot be published to.
const AllHomes = "*"

// Envelope metadata keys.
const (
	MetaTraceID = "trace_id"
	MetaReplyTo = "reply_to"
)

const requestTimeout = 30 * time.Second

var (
	ErrClosed       = errors.New("bus is closed")
	ErrHomeRequired = errors.New("homeID is required")
	ErrInvalidHome  = errors.New("invalid homeID")
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// ValidateHome reports whether homeID can be published to.
func ValidateHome(homeID string) error {
	return checkHome(homeID, false)
}

// checkHome validates a home ID. Home IDs become a NATS subject token, so
// separators and wildcards are refused. allowAll admits AllHomes.
func checkHome(homeID string, allowAll bool) error {
	if homeID == "" {
		return ErrHomeRequired
	}
	if homeID == AllHomes {
		if allowAll {
			return nil
		}
		return fmt.Errorf("%w: cannot publish to all homes", ErrInvalidHome)
	}
	if strings.ContainsAny(homeID, ".*> \t\n") {
		return fmt.Errorf("%w: %q", ErrInvalidHome, homeID)
	}
	return nil
}

// newMessage builds the envelope shared by every transport.
func newMessage(ctx context.Context, homeID, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		HomeID:    homeID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.Metadata[MetaTraceID] = sc.TraceID().String()
	}
	return msg
}

// Reply answers a message received through Request. Messages without a
// reply topic are ignored.
func Reply(ctx context.Context, b domain.EventBus, req *domain.Message, payload []byte) error {
	replyTo := req.Metadata[MetaReplyTo]
	if replyTo == "" {
		return nil
	}
	return b.Publish(ctx, req.HomeID, replyTo, payload)
}
