package relay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/omni/intent-bridge/chain"
	"github.com/omni/intent-bridge/config"
	"github.com/omni/intent-bridge/db"
	"github.com/omni/intent-bridge/entity"
	"github.com/omni/intent-bridge/gmp"
	"github.com/omni/intent-bridge/logging"
	"github.com/omni/intent-bridge/relay"
	"github.com/omni/intent-bridge/repository"
	"github.com/omni/intent-bridge/router"
	"github.com/omni/intent-bridge/transport"
)

const (
	srcChain = 30
	dstChain = 1
)

var (
	admin   = gmp.HexToAddress("0xad")
	relayer = gmp.HexToAddress("0x7e")
	srcGMP  = gmp.HexToAddress("0xe2")
	dstGMP  = gmp.HexToAddress("0xe1")
)

type fakeSource struct {
	genesis common.Hash
	events  []*chain.Event
}

func (s *fakeSource) ChainID() uint32 { return srcChain }

func (s *fakeSource) Genesis() common.Hash { return s.genesis }

func (s *fakeSource) Events(from uint64, limit int) []*chain.Event {
	if from >= uint64(len(s.events)) {
		return nil
	}
	res := s.events[from:]
	if len(res) > limit {
		res = res[:limit]
	}
	return res
}

func (s *fakeSource) add(name string, data interface{}) {
	s.events = append(s.events, &chain.Event{Index: uint64(len(s.events)), Name: name, Data: data})
}

func (s *fakeSource) addMessage(dst uint32, seq uint64, id byte) {
	s.add(transport.EventMessageReady, &transport.MessageReady{
		SrcChainID: srcChain,
		SrcAddr:    srcGMP,
		DstChainID: dst,
		DstAddr:    dstGMP,
		Payload:    proof(id),
		Sequence:   seq,
	})
}

type fakeDestination struct {
	mu        sync.Mutex
	failures  map[uint64][]error
	delivered []uint64
	attempts  int
}

func (d *fakeDestination) ChainID() uint32 { return dstChain }

func (d *fakeDestination) Deliver(_ context.Context, msg *transport.MessageReady) (common.Hash, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if errs := d.failures[msg.Sequence]; len(errs) > 0 {
		d.failures[msg.Sequence] = errs[1:]
		return common.Hash{}, errs[0]
	}
	d.delivered = append(d.delivered, msg.Sequence)
	return common.Hash{byte(msg.Sequence)}, nil
}

func proof(id byte) []byte {
	return (&gmp.FulfillmentProof{
		IntentID:        common.Hash{id},
		SolverAddr:      gmp.HexToAddress("0x55"),
		AmountFulfilled: 10,
		Timestamp:       1,
	}).Encode()
}

func testConfig() *config.RelayConfig {
	return &config.RelayConfig{
		Address:      relayer,
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
		Backoff:      &config.BackoffConfig{Min: time.Millisecond, Max: 4 * time.Millisecond},
		Breaker:      &config.BreakerConfig{FailureThreshold: 100, OpenTimeout: time.Second},
	}
}

func cursor(t *testing.T, repo *repository.Repo, route string) uint64 {
	t.Helper()
	c, err := repo.RelayCursors.GetByRoute(context.Background(), route)
	require.NoError(t, err)
	return c.NextEvent
}

func TestRelay_DeliversOnlyOwnRoute(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.add("IntentCreated", struct{}{})
	src.addMessage(dstChain, 1, 0xaa)
	src.addMessage(42, 1, 0xbb)
	src.addMessage(dstChain, 2, 0xcc)
	dst := &fakeDestination{}
	repo := repository.NewMemoryRepo()

	r := relay.NewRelay(logging.Discard(), repo, testConfig(), src, dst)
	require.Equal(t, "30->1@0000000000000000", r.Route())
	n, err := r.RelayBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []uint64{1, 2}, dst.delivered)
	require.EqualValues(t, 4, cursor(t, repo, r.Route()))

	deliveries, err := repo.RelayDeliveries.FindByIntentID(context.Background(), common.Hash{0xcc})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, entity.DeliveryStatusDelivered, deliveries[0].Status)
	require.Equal(t, "FulfillmentProof", deliveries[0].MessageType)
	require.Equal(t, &common.Hash{2}, deliveries[0].TxHash)
	require.EqualValues(t, 1, deliveries[0].Attempts)

	n, err = r.RelayBatch(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRelay_ErrorPolicy(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name     string
		errs     []error
		status   entity.DeliveryStatus
		attempts uint
	}{
		{
			name:     "transient errors are retried",
			errs:     []error{errors.New("rpc timeout"), errors.New("rpc timeout")},
			status:   entity.DeliveryStatusDelivered,
			attempts: 3,
		},
		{
			name:     "validation errors are retried",
			errs:     []error{router.ErrSameChainMessage},
			status:   entity.DeliveryStatusDelivered,
			attempts: 2,
		},
		{
			name:     "replay counts as delivered",
			errs:     []error{router.ErrStaleSequence.Wrapf("sequence 1")},
			status:   entity.DeliveryStatusReplayed,
			attempts: 1,
		},
		{
			name:     "untrusted source is dropped",
			errs:     []error{router.ErrUntrustedSource},
			status:   entity.DeliveryStatusDropped,
			attempts: 1,
		},
		{
			name:     "decode error is dropped",
			errs:     []error{gmp.ErrInvalidLength},
			status:   entity.DeliveryStatusDropped,
			attempts: 1,
		},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := &fakeSource{}
			src.addMessage(dstChain, 1, 0xaa)
			src.addMessage(dstChain, 2, 0xbb)
			dst := &fakeDestination{failures: map[uint64][]error{1: tt.errs}}
			repo := repository.NewMemoryRepo()

			r := relay.NewRelay(logging.Discard(), repo, testConfig(), src, dst)
			n, err := r.RelayBatch(context.Background())
			require.NoError(t, err)
			require.Equal(t, 2, n)
			require.EqualValues(t, 2, cursor(t, repo, r.Route()))

			deliveries, err := repo.RelayDeliveries.FindByIntentID(context.Background(), common.Hash{0xaa})
			require.NoError(t, err)
			require.Len(t, deliveries, 1)
			first := deliveries[0]
			require.EqualValues(t, 1, first.Sequence)
			require.Equal(t, r.Route(), first.Route)
			require.Equal(t, tt.status, first.Status)
			require.Equal(t, tt.attempts, first.Attempts)
			if tt.status == entity.DeliveryStatusDelivered {
				require.Nil(t, first.Error)
			} else {
				require.NotNil(t, first.Error)
			}

			second, err := repo.RelayDeliveries.FindByIntentID(context.Background(), common.Hash{0xbb})
			require.NoError(t, err)
			require.Len(t, second, 1)
			require.Equal(t, entity.DeliveryStatusDelivered, second[0].Status)
		})
	}
}

func TestRelay_ResumesFromCursor(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.addMessage(dstChain, 1, 0xaa)
	src.addMessage(dstChain, 2, 0xbb)
	repo := repository.NewMemoryRepo()
	require.NoError(t, repo.RelayCursors.Ensure(context.Background(), &entity.RelayCursor{
		Route:     relay.RouteKey(srcChain, dstChain, src.genesis),
		NextEvent: 1,
	}))

	dst := &fakeDestination{}
	r := relay.NewRelay(logging.Discard(), repo, testConfig(), src, dst)
	_, err := r.RelayBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, dst.delivered)
}

func TestRelay_IgnoresCursorOfPreviousLedger(t *testing.T) {
	t.Parallel()

	repo := repository.NewMemoryRepo()
	before := &fakeSource{genesis: common.Hash{0x01}}
	before.addMessage(dstChain, 1, 0xaa)
	before.addMessage(dstChain, 2, 0xbb)
	_, err := relay.NewRelay(logging.Discard(), repo, testConfig(), before, &fakeDestination{}).RelayBatch(context.Background())
	require.NoError(t, err)

	// the source restarted with an empty ledger and reuses the event indexes
	after := &fakeSource{genesis: common.Hash{0x02}}
	after.addMessage(dstChain, 1, 0xcc)
	dst := &fakeDestination{}
	r := relay.NewRelay(logging.Discard(), repo, testConfig(), after, dst)
	require.NotEqual(t, relay.RouteKey(srcChain, dstChain, before.genesis), r.Route())
	n, err := r.RelayBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []uint64{1}, dst.delivered)
	require.EqualValues(t, 2, cursor(t, repo, relay.RouteKey(srcChain, dstChain, before.genesis)))
	require.EqualValues(t, 1, cursor(t, repo, r.Route()))
}

func TestRelay_CancelStopsRetrying(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.addMessage(dstChain, 1, 0xaa)
	failing := make([]error, 1000)
	for i := range failing {
		failing[i] = errors.New("destination is down")
	}
	dst := &fakeDestination{failures: map[uint64][]error{1: failing}}
	repo := repository.NewMemoryRepo()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r := relay.NewRelay(logging.Discard(), repo, testConfig(), src, dst)
	n, err := r.RelayBatch(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, n)
	require.Empty(t, dst.delivered)

	_, err = repo.RelayCursors.GetByRoute(context.Background(), r.Route())
	require.ErrorIs(t, err, db.ErrNotFound)

	deliveries, err := repo.RelayDeliveries.FindByIntentID(context.Background(), common.Hash{0xaa})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, entity.DeliveryStatusFailed, deliveries[0].Status)
	require.Greater(t, deliveries[0].Attempts, uint(1))
}

func TestRelay_BreakerOpensOnRepeatedFailures(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.addMessage(dstChain, 1, 0xaa)
	dst := &fakeDestination{failures: map[uint64][]error{1: {
		errors.New("down"), errors.New("down"),
	}}}
	cfg := testConfig()
	cfg.Breaker = &config.BreakerConfig{FailureThreshold: 2, OpenTimeout: 20 * time.Millisecond}

	r := relay.NewRelay(logging.Discard(), repository.NewMemoryRepo(), cfg, src, dst)
	_, err := r.RelayBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, dst.delivered)
	require.Equal(t, 3, dst.attempts)
	require.Equal(t, gobreaker.StateClosed, r.BreakerState())
}

func TestRelay_LedgerDestination(t *testing.T) {
	t.Parallel()

	srcLedger := chain.NewLedger(srcChain, nil)
	sender := transport.NewSender(srcGMP, admin)
	dstLedger := chain.NewLedger(dstChain, nil)
	endpoint := router.NewEndpoint(dstGMP, admin)

	var received []common.Hash
	endpoint.RegisterHandler(gmp.TypeFulfillmentProof, "recorder", func(_ *chain.Tx, _ *router.Inbound, msg gmp.Message) error {
		received = append(received, msg.GetIntentID())
		return nil
	})

	_, err := srcLedger.Execute(admin, func(tx *chain.Tx) error {
		return sender.SetRemoteEndpoint(tx, dstChain, dstGMP)
	})
	require.NoError(t, err)
	_, err = dstLedger.Execute(admin, func(tx *chain.Tx) error {
		if err := endpoint.SetRelay(tx, relayer, true); err != nil {
			return err
		}
		return endpoint.SetTrustedRemote(tx, srcChain, srcGMP)
	})
	require.NoError(t, err)

	for _, id := range []byte{0xaa, 0xbb} {
		id := id
		_, err = srcLedger.Execute(gmp.HexToAddress("0x01"), func(tx *chain.Tx) error {
			_, err := sender.SendMessage(tx, dstChain, &gmp.FulfillmentProof{IntentID: common.Hash{id}, Timestamp: 1})
			return err
		})
		require.NoError(t, err)
	}

	repo := repository.NewMemoryRepo()
	dst := relay.NewLedgerDestination(dstLedger, endpoint, relayer)
	r := relay.NewRelay(logging.Discard(), repo, testConfig(), srcLedger, dst)
	_, err = r.RelayBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []common.Hash{{0xaa}, {0xbb}}, received)
	require.EqualValues(t, 2, endpoint.LastSequence(srcChain))

	// a second relay on the same route without the persisted cursor sees
	// replays and leaves the destination untouched
	again := relay.NewRelay(logging.Discard(), repository.NewMemoryRepo(), testConfig(), srcLedger, dst)
	_, err = again.RelayBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, received, 2)
}
