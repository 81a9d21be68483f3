package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"shortlink/internal/config"
)

const maxRedeliveryDelay = 30 * time.Second

// JetStreamTransport publishes events to a JetStream stream and records them
// from a durable queue consumer with manual acks, so events survive a crash
// between the redirect and the insert.
type JetStreamTransport struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	sub    *nats.Subscription
	cfg    config.NATS
	handle Handler
	log    *zap.Logger
}

func NewJetStreamTransport(cfg *config.NATS, handle Handler, log *zap.Logger) (*JetStreamTransport, error) {
	conn, err := nats.Connect(
		cfg.URL,
		nats.Name("shortlink-clicks"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	t := &JetStreamTransport{
		conn:   conn,
		js:     js,
		cfg:    *cfg,
		handle: handle,
		log:    log,
	}

	if err := t.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}

	t.sub, err = js.QueueSubscribe(
		cfg.Subject,
		cfg.Durable,
		t.onMessage,
		nats.Durable(cfg.Durable),
		nats.ManualAck(),
		nats.AckWait(cfg.AckWait),
		nats.MaxDeliver(cfg.MaxDeliver),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", cfg.Subject, err)
	}

	log.Info("jetstream click transport ready",
		zap.String("stream", cfg.Stream),
		zap.String("subject", cfg.Subject),
		zap.String("durable", cfg.Durable),
	)
	return t, nil
}

func (t *JetStreamTransport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:     t.cfg.Stream,
		Subjects: []string{t.cfg.Subject},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
		Replicas: 1,
	}

	_, err := t.js.StreamInfo(t.cfg.Stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		if _, err := t.js.AddStream(streamCfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", t.cfg.Stream, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to query stream %s: %w", t.cfg.Stream, err)
	}

	if _, err := t.js.UpdateStream(streamCfg); err != nil {
		return fmt.Errorf("failed to update stream %s: %w", t.cfg.Stream, err)
	}
	return nil
}

// Deliver publishes ev. The event ID doubles as the JetStream message ID so
// duplicate publishes inside the dedup window are discarded by the server.
func (t *JetStreamTransport) Deliver(ctx context.Context, ev ClickEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode click event: %w", err)
	}

	// Retried publishes reuse the message ID, so the server stores the event once.
	log := t.log.With(zap.String("code", ev.Code), zap.String("click_id", ev.ID))
	err = retry(ctx, t.cfg.PublishAttempts, t.cfg.PublishRetryDelay, log, func() error {
		_, err := t.js.Publish(t.cfg.Subject, data, nats.Context(ctx), nats.MsgId(ev.ID))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to publish click event: %w", err)
	}
	return nil
}

func (t *JetStreamTransport) onMessage(msg *nats.Msg) {
	var ev ClickEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.ID == "" {
		t.log.Error("discarding malformed click event", zap.Error(err))
		_ = msg.Term()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.AckWait)
	defer cancel()

	if err := t.handle(ctx, ev); err != nil {
		delay := redeliveryDelay(msg)
		t.log.Warn("click processing failed, requesting redelivery",
			zap.String("code", ev.Code),
			zap.String("click_id", ev.ID),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		_ = msg.NakWithDelay(delay)
		return
	}

	if err := msg.Ack(); err != nil {
		// the event will be redelivered and deduplicated by its ID
		t.log.Warn("failed to ack click event", zap.String("click_id", ev.ID), zap.Error(err))
	}
}

func redeliveryDelay(msg *nats.Msg) time.Duration {
	attempt := uint64(1)
	if meta, err := msg.Metadata(); err == nil && meta.NumDelivered > 0 {
		attempt = meta.NumDelivered
	}
	if attempt > 5 {
		return maxRedeliveryDelay
	}
	delay := time.Second * time.Duration(1<<(attempt-1))
	if delay > maxRedeliveryDelay {
		delay = maxRedeliveryDelay
	}
	return delay
}

// Close drains the consumer so in-flight messages finish, then closes the connection.
func (t *JetStreamTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	if err := t.conn.Drain(); err != nil {
		t.conn.Close()
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	return nil
}
