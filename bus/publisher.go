package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/omni/intent-bridge/config"
	"github.com/omni/intent-bridge/logging"
	"github.com/omni/intent-bridge/transport"
)

var (
	PublishedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intent_bridge",
		Subsystem: "bus",
		Name:      "published_messages_total",
	}, []string{"subject", "status"})

	ConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "intent_bridge",
		Subsystem: "bus",
		Name:      "connection_status",
		Help:      "1 while connected to NATS.",
	})
)

// Publisher mirrors MessageReady events to a JetStream stream, one subject per
// route: <subject>.<src_chain_id>.<dst_chain_id>.
type Publisher struct {
	logger  logging.Logger
	cfg     *config.NATSConfig
	conn    *nats.Conn
	js      nats.JetStreamContext
	timeout time.Duration
}

func NewPublisher(logger logging.Logger, cfg *config.NATSConfig) (*Publisher, error) {
	logger = logger.WithField("nats_url", cfg.URL)
	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.WithError(err).Warn("disconnected from nats")
			ConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("reconnected to nats")
			ConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("can't connect to nats: %w", err)
	}
	ConnectionStatus.Set(1)

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("can't create jetstream context: %w", err)
	}
	p := &Publisher{
		logger:  logger,
		cfg:     cfg,
		conn:    conn,
		js:      js,
		timeout: cfg.Timeout,
	}
	if cfg.Stream != "" {
		if err = p.ensureStream(); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return p, nil
}

func (p *Publisher) ensureStream() error {
	_, err := p.js.StreamInfo(p.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("can't get stream info: %w", err)
	}
	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:       p.cfg.Stream,
		Subjects:   []string{p.cfg.Subject + ".>"},
		Retention:  nats.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Storage:    nats.FileStorage,
		Duplicates: time.Hour,
	})
	if err != nil {
		return fmt.Errorf("can't create stream %s: %w", p.cfg.Stream, err)
	}
	p.logger.WithField("stream", p.cfg.Stream).Info("created jetstream stream")
	return nil
}

func (p *Publisher) Publish(ctx context.Context, msg *transport.MessageReady) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("can't marshal message: %w", err)
	}
	subject := Subject(p.cfg.Subject, msg)
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	_, err = p.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(MessageID(msg)))
	if err != nil {
		PublishedMessages.WithLabelValues(p.cfg.Subject, "error").Inc()
		return fmt.Errorf("can't publish to %s: %w", subject, err)
	}
	PublishedMessages.WithLabelValues(p.cfg.Subject, "ok").Inc()
	return nil
}

func (p *Publisher) Close() {
	p.conn.Close()
	ConnectionStatus.Set(0)
}

func Subject(prefix string, msg *transport.MessageReady) string {
	return prefix + "." + strconv.FormatUint(uint64(msg.SrcChainID), 10) + "." + strconv.FormatUint(uint64(msg.DstChainID), 10)
}

// MessageID is used as the JetStream dedup id, so a message republished after
// a relay restart is stored once.
func MessageID(msg *transport.MessageReady) string {
	return fmt.Sprintf("%d-%s-%d-%d", msg.SrcChainID, msg.SrcAddr, msg.DstChainID, msg.Sequence)
}
