package relay

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/omni/intent-bridge/config"
	"github.com/omni/intent-bridge/db"
	"github.com/omni/intent-bridge/entity"
	"github.com/omni/intent-bridge/fault"
	"github.com/omni/intent-bridge/gmp"
	"github.com/omni/intent-bridge/logging"
	"github.com/omni/intent-bridge/repository"
	"github.com/omni/intent-bridge/transport"
	"github.com/omni/intent-bridge/utils"
)

// Publisher mirrors picked up messages to an external bus.
type Publisher interface {
	Publish(ctx context.Context, msg *transport.MessageReady) error
}

// Relay moves MessageReady events of one source ledger to one destination.
// It holds no business logic; the destination endpoint decides what a message
// means.
type Relay struct {
	logger     logging.Logger
	name       string
	route      string
	src        EventSource
	dst        Destination
	cfg        *config.RelayConfig
	cursors    entity.RelayCursorsRepo
	deliveries entity.RelayDeliveriesRepo
	breaker    *gobreaker.CircuitBreaker
	publisher  Publisher

	next   uint64
	loaded bool
}

func RouteName(srcChainID, dstChainID uint32) string {
	return strconv.FormatUint(uint64(srcChainID), 10) + "->" + strconv.FormatUint(uint64(dstChainID), 10)
}

// RouteKey scopes a route to one source ledger instance, so cursors and
// delivery records of a previous run are never applied to a fresh ledger.
func RouteKey(srcChainID, dstChainID uint32, srcGenesis common.Hash) string {
	return RouteName(srcChainID, dstChainID) + "@" + hex.EncodeToString(srcGenesis[:8])
}

func NewRelay(logger logging.Logger, repo *repository.Repo, cfg *config.RelayConfig, src EventSource, dst Destination) *Relay {
	name := RouteName(src.ChainID(), dst.ChainID())
	route := RouteKey(src.ChainID(), dst.ChainID(), src.Genesis())
	logger = logger.WithField("route", route)
	return &Relay{
		logger:     logger,
		name:       name,
		route:      route,
		src:        src,
		dst:        dst,
		cfg:        cfg,
		cursors:    repo.RelayCursors,
		deliveries: repo.RelayDeliveries,
		breaker:    newBreaker(logger, name, cfg.Breaker),
	}
}

func newBreaker(logger logging.Logger, name string, cfg *config.BreakerConfig) *gobreaker.CircuitBreaker {
	threshold := uint32(cfg.FailureThreshold)
	if threshold == 0 {
		threshold = 1
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"from": from, "to": to}).Warn("breaker changed state")
			if to == gobreaker.StateOpen {
				BreakerOpen.WithLabelValues(name).Set(1)
			} else {
				BreakerOpen.WithLabelValues(name).Set(0)
			}
		},
	})
}

// SetPublisher enables mirroring of every message addressed to this route.
func (r *Relay) SetPublisher(p Publisher) {
	r.publisher = p
}

// Route is the key cursors and delivery records are stored under.
func (r *Relay) Route() string {
	return r.route
}

func (r *Relay) BreakerState() gobreaker.State {
	return r.breaker.State()
}

func (r *Relay) Start(ctx context.Context) {
	r.logger.Info("starting relay")
	for {
		n, err := r.RelayBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.WithError(err).Error("can't relay batch")
		}
		if n > 0 && err == nil {
			continue
		}
		if utils.ContextSleep(ctx, r.cfg.PollInterval) == nil {
			return
		}
	}
}

// RelayBatch processes up to BatchSize source events and returns how many were
// consumed. The cursor is persisted after every event, so a restart resumes
// right after the last settled message.
func (r *Relay) RelayBatch(ctx context.Context) (int, error) {
	if err := r.loadCursor(ctx); err != nil {
		return 0, err
	}
	events := r.src.Events(r.next, r.cfg.BatchSize)
	for i, e := range events {
		if msg, ok := e.Data.(*transport.MessageReady); ok && e.Name == transport.EventMessageReady && msg.DstChainID == r.dst.ChainID() {
			if err := r.relay(ctx, msg); err != nil {
				return i, err
			}
		}
		if err := r.saveCursor(ctx, e.Index+1); err != nil {
			return i, err
		}
	}
	return len(events), nil
}

func (r *Relay) loadCursor(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	cursor, err := r.cursors.GetByRoute(ctx, r.route)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("can't load relay cursor: %w", err)
		}
		cursor = &entity.RelayCursor{Route: r.route}
	}
	r.next = cursor.NextEvent
	r.loaded = true
	RouteCursor.WithLabelValues(r.name).Set(float64(r.next))
	return nil
}

func (r *Relay) saveCursor(ctx context.Context, next uint64) error {
	if err := r.cursors.Ensure(ctx, &entity.RelayCursor{Route: r.route, NextEvent: next}); err != nil {
		return fmt.Errorf("can't save relay cursor: %w", err)
	}
	r.next = next
	RouteCursor.WithLabelValues(r.name).Set(float64(next))
	return nil
}

func (r *Relay) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.Backoff.Min
	b.MaxInterval = r.cfg.Backoff.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithContext(b, ctx)
}

// relay delivers msg until it is settled. A replay means an earlier attempt
// already landed, authentication and decode failures can never succeed and are
// dropped, everything else is retried with capped backoff behind the breaker.
func (r *Relay) relay(ctx context.Context, msg *transport.MessageReady) error {
	delivery := &entity.RelayDelivery{
		Route:      r.route,
		SrcChainID: msg.SrcChainID,
		DstChainID: msg.DstChainID,
		Sequence:   msg.Sequence,
	}
	if decoded, err := gmp.Decode(msg.Payload); err == nil {
		delivery.MessageType = decoded.Type().String()
		delivery.IntentID = decoded.GetIntentID()
	} else if t, err := gmp.PeekType(msg.Payload); err == nil {
		delivery.MessageType = t.String()
	}
	logger := r.logger.WithFields(logrus.Fields{
		"sequence":     msg.Sequence,
		"message_type": delivery.MessageType,
		"intent_id":    delivery.IntentID,
	})

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, msg); err != nil {
			logger.WithError(err).Warn("can't publish message to bus")
		}
	}

	attempt := func() error {
		var (
			hash       common.Hash
			deliverErr error
		)
		// only failed deliveries count against the breaker
		_, err := r.breaker.Execute(func() (interface{}, error) {
			hash, deliverErr = r.dst.Deliver(ctx, msg)
			if classify(deliverErr) == entity.DeliveryStatusFailed {
				return nil, deliverErr
			}
			return nil, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return err
		}

		delivery.Attempts++
		delivery.Status = classify(deliverErr)
		delivery.Error = nil
		if deliverErr != nil {
			errMsg := deliverErr.Error()
			delivery.Error = &errMsg
		}
		if delivery.Status == entity.DeliveryStatusDelivered {
			delivery.TxHash = &hash
		}
		DeliveryAttempts.WithLabelValues(r.name, string(delivery.Status)).Inc()
		if saveErr := r.deliveries.Ensure(ctx, delivery); saveErr != nil {
			return backoff.Permanent(fmt.Errorf("can't save relay delivery: %w", saveErr))
		}

		switch delivery.Status {
		case entity.DeliveryStatusDelivered:
			logger.WithField("tx_hash", hash).Info("delivered message")
			return nil
		case entity.DeliveryStatusReplayed:
			logger.WithError(deliverErr).Info("message was already delivered")
			return nil
		case entity.DeliveryStatusDropped:
			logger.WithError(deliverErr).Error("dropping undeliverable message")
			return nil
		}
		return deliverErr
	}

	return backoff.RetryNotify(attempt, r.newBackOff(ctx), func(err error, wait time.Duration) {
		logger.WithError(err).WithFields(logrus.Fields{
			"attempts": delivery.Attempts,
			"wait":     wait,
		}).Warn("can't deliver message, retrying")
	})
}

func classify(err error) entity.DeliveryStatus {
	switch {
	case err == nil:
		return entity.DeliveryStatusDelivered
	case errors.Is(err, fault.ErrReplay):
		return entity.DeliveryStatusReplayed
	case fault.IsPermanent(err):
		return entity.DeliveryStatusDropped
	default:
		return entity.DeliveryStatusFailed
	}
}
