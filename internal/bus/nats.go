package bus

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
	"github.com/opensource-finance/watchpost/internal/domain"
)

// Header keys set on every published NATS message so that subjects can be
// inspected without decoding the envelope.
const (
	headerHome  = "Watchpost-Home"
	headerTrace = "Watchpost-Trace"
)

// NATSBus implements EventBus on NATS core subjects of the form
// <topic>.<home>. Each subscription is delivered serially, so events of one
// home keep their publish order.
type NATSBus struct {
	mu            sync.RWMutex
	conn          *nats.Conn
	subscriptions map[string]*natsSubscription
	config        domain.EventBusConfig
}

type natsSubscription struct {
	bus   *NATSBus
	id    string
	topic string
	sub   *nats.Subscription
}

// NewNATSBus connects to NATS, retrying up to NATSMaxReconnects times.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}

	opts := natsOptions(cfg)
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	var conn *nats.Conn
	var err error
	for attempt := 1; attempt <= cfg.NATSMaxReconnects; attempt++ {
		conn, err = nats.Connect(cfg.NATSUrl, opts...)
		if err == nil {
			break
		}
		slog.Warn("NATS connection attempt failed",
			"attempt", attempt,
			"max_attempts", cfg.NATSMaxReconnects,
			"error", err,
		)
		if attempt < cfg.NATSMaxReconnects {
			time.Sleep(wait)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", cfg.NATSMaxReconnects, err)
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
	)

	return &NATSBus{
		conn:          conn,
		subscriptions: make(map[string]*natsSubscription),
		config:        cfg,
	}, nil
}

func natsOptions(cfg domain.EventBusConfig) []nats.Option {
	opts := []nats.Option{
		nats.Name("watchpost"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(time.Duration(cfg.NATSReconnectWait) * time.Second),
		// Buffer publishes while reconnecting so ingested events are not lost
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected",
				"error", err,
				"will_reconnect", !nc.IsClosed(),
			)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "error", err, "subject", subject)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}
	return opts
}

// Publish sends a message to the home's subject for topic. Topics that are
// NATS inboxes are reply targets and are published to as-is.
func (b *NATSBus) Publish(ctx context.Context, homeID string, topic string, payload []byte) error {
	if err := checkHome(homeID, false); err != nil {
		return err
	}

	subject := makeSubject(homeID, topic)
	if strings.HasPrefix(topic, nats.InboxPrefix) {
		subject = topic
	}

	m, err := encodeMsg(subject, newMessage(ctx, homeID, topic, payload))
	if err != nil {
		return err
	}
	return b.conn.PublishMsg(m)
}

// Subscribe registers a handler for topic. AllHomes subscribes with the
// single-token wildcard.
func (b *NATSBus) Subscribe(ctx context.Context, homeID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := checkHome(homeID, true); err != nil {
		return nil, err
	}

	natsSub, err := b.conn.Subscribe(makeSubject(homeID, topic), func(m *nats.Msg) {
		msg, err := decodeMsg(m)
		if err != nil {
			slog.Error("failed to decode NATS message",
				"subject", m.Subject,
				"error", err,
			)
			return
		}

		if err := handler(ctx, msg); err != nil {
			slog.Error("handler error",
				"subject", m.Subject,
				"home_id", msg.HomeID,
				"message_id", msg.ID,
				"error", err,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	sub := &natsSubscription{
		bus:   b,
		id:    uuid.New().String(),
		topic: topic,
		sub:   natsSub,
	}

	b.mu.Lock()
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

// Request uses the NATS request-reply inbox. Responders answer with Reply.
func (b *NATSBus) Request(ctx context.Context, homeID string, topic string, payload []byte) ([]byte, error) {
	if err := checkHome(homeID, false); err != nil {
		return nil, err
	}

	m, err := encodeMsg(makeSubject(homeID, topic), newMessage(ctx, homeID, topic, payload))
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	reply, err := b.conn.RequestMsgWithContext(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", topic, err)
	}

	msg, err := decodeMsg(reply)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}
	return msg.Payload, nil
}

// Ping checks NATS connectivity.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains the connection so in-flight handlers finish before it closes.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	b.subscriptions = make(map[string]*natsSubscription)
	b.mu.Unlock()

	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

// Stats returns NATS connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

// makeSubject places the home last so AllHomes becomes "<topic>.*".
func makeSubject(homeID, topic string) string {
	return topic + "." + homeID
}

// homeFromSubject recovers the home token of a subject built by makeSubject.
func homeFromSubject(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return ""
}

func encodeMsg(subject string, msg *domain.Message) (*nats.Msg, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	m := nats.NewMsg(subject)
	m.Data = data
	m.Header.Set(headerHome, msg.HomeID)
	if traceID := msg.Metadata[MetaTraceID]; traceID != "" {
		m.Header.Set(headerTrace, traceID)
	}
	return m, nil
}

// decodeMsg unwraps the envelope. A missing home is taken from the header,
// then from the subject. The NATS reply inbox is exposed as MetaReplyTo.
func decodeMsg(m *nats.Msg) (*domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		return nil, err
	}
	if msg.Metadata == nil {
		msg.Metadata = make(map[string]string)
	}
	if msg.HomeID == "" && m.Header != nil {
		msg.HomeID = m.Header.Get(headerHome)
	}
	if msg.HomeID == "" {
		msg.HomeID = homeFromSubject(m.Subject)
	}
	if m.Reply != "" {
		msg.Metadata[MetaReplyTo] = m.Reply
	}
	return &msg, nil
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
