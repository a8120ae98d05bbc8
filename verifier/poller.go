package verifier

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/omni/intent-bridge/chain"
	"github.com/omni/intent-bridge/hub"
	"github.com/omni/intent-bridge/logging"
	"github.com/omni/intent-bridge/utils"
)

// EventSource is a ledger whose committed events the poller follows.
type EventSource interface {
	ChainID() uint32
	Events(from uint64, limit int) []*chain.Event
}

type FeedEvent struct {
	ID         string      `json:"id"`
	ChainID    uint32      `json:"chain_id"`
	Index      uint64      `json:"index"`
	TxHash     common.Hash `json:"tx_hash"`
	Name       string      `json:"name"`
	Timestamp  uint64      `json:"timestamp"`
	Data       interface{} `json:"data"`
	ObservedAt time.Time   `json:"observed_at"`
}

// Feed keeps the most recent events, oldest first.
type Feed struct {
	mu     sync.RWMutex
	size   int
	events []*FeedEvent
}

func NewFeed(size int) *Feed {
	return &Feed{size: size, events: make([]*FeedEvent, 0, size)}
}

func (f *Feed) Append(e *FeedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == f.size {
		copy(f.events, f.events[1:])
		f.events = f.events[:f.size-1]
	}
	f.events = append(f.events, e)
}

// Recent returns up to limit newest events, oldest first. A non-positive
// limit returns everything.
func (f *Feed) Recent(limit int) []*FeedEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	from := 0
	if limit > 0 && len(f.events) > limit {
		from = len(f.events) - limit
	}
	res := make([]*FeedEvent, len(f.events)-from)
	copy(res, f.events[from:])
	return res
}

type Poller struct {
	logger      logging.Logger
	service     *Service
	feed        *Feed
	sources     []EventSource
	cursors     map[uint32]uint64
	interval    time.Duration
	batchSize   int
	autoApprove bool
}

func NewPoller(logger logging.Logger, service *Service, feed *Feed, interval time.Duration, autoApprove bool, sources ...EventSource) *Poller {
	return &Poller{
		logger:      logger,
		service:     service,
		feed:        feed,
		sources:     sources,
		cursors:     make(map[uint32]uint64, len(sources)),
		interval:    interval,
		batchSize:   100,
		autoApprove: autoApprove,
	}
}

func (p *Poller) Feed() *Feed {
	return p.feed
}

func (p *Poller) Start(ctx context.Context) {
	p.logger.WithField("interval", p.interval).Info("starting verifier poller")
	for {
		p.Poll(ctx)
		if utils.ContextSleep(ctx, p.interval) == nil {
			p.logger.Info("verifier poller stopped")
			return
		}
	}
}

// Poll drains every source once.
func (p *Poller) Poll(ctx context.Context) {
	for _, src := range p.sources {
		chainID := src.ChainID()
		label := strconv.FormatUint(uint64(chainID), 10)
		for {
			events := src.Events(p.cursors[chainID], p.batchSize)
			if len(events) == 0 {
				break
			}
			for _, e := range events {
				p.observe(ctx, chainID, e)
				p.cursors[chainID] = e.Index + 1
			}
			PolledEvents.WithLabelValues(label).Add(float64(len(events)))
		}
		PollCursor.WithLabelValues(label).Set(float64(p.cursors[chainID]))
	}
}

func (p *Poller) observe(ctx context.Context, chainID uint32, e *chain.Event) {
	p.feed.Append(&FeedEvent{
		ID:         uuid.New().String(),
		ChainID:    chainID,
		Index:      e.Index,
		TxHash:     e.TxHash,
		Name:       e.Name,
		Timestamp:  e.Timestamp,
		Data:       e.Data,
		ObservedAt: time.Now(),
	})
	if !p.autoApprove || e.Name != hub.EventIntentSettled {
		return
	}
	settled, ok := e.Data.(*hub.IntentSettled)
	if !ok || settled.Kind != hub.KindInflow {
		return
	}
	if _, err := p.service.ValidateInflowEscrow(ctx, settled.IntentID); err != nil {
		p.logger.WithError(err).WithField("intent_id", settled.IntentID).Warn("can't auto approve inflow escrow")
	}
}
