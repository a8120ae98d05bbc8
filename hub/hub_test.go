package hub_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/omni/intent-bridge/approval"
	"github.com/omni/intent-bridge/chain"
	"github.com/omni/intent-bridge/fault"
	"github.com/omni/intent-bridge/gmp"
	"github.com/omni/intent-bridge/hub"
	"github.com/omni/intent-bridge/router"
	"github.com/omni/intent-bridge/transport"
)

const (
	hubChain       = 1
	connectedChain = 30
)

var (
	admin     = gmp.HexToAddress("0xad")
	relayer   = gmp.HexToAddress("0x7e")
	requester = gmp.HexToAddress("0x01")
	solver    = gmp.HexToAddress("0x55")
	stranger  = gmp.HexToAddress("0x99")
	tokenX    = gmp.HexToAddress("0xaaaa")
	tokenY    = gmp.HexToAddress("0xbbbb")
	hubGMP    = gmp.HexToAddress("0xe1")
	remoteGMP = gmp.HexToAddress("0xe2")
)

type env struct {
	now      time.Time
	ledger   *chain.Ledger
	hub      *hub.Hub
	sender   *transport.Sender
	endpoint *router.Endpoint
	seq      uint64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{now: time.Unix(1_000_000, 0)}
	e.ledger = chain.NewLedger(hubChain, func() time.Time { return e.now })
	e.sender = transport.NewSender(hubGMP, admin)
	e.endpoint = router.NewEndpoint(hubGMP, admin)
	e.hub = hub.New(e.ledger, e.sender)
	e.hub.RegisterHandlers(e.endpoint)

	_, err := e.ledger.Execute(admin, func(tx *chain.Tx) error {
		if err := e.sender.SetRemoteEndpoint(tx, connectedChain, remoteGMP); err != nil {
			return err
		}
		if err := e.endpoint.SetRelay(tx, relayer, true); err != nil {
			return err
		}
		return e.endpoint.SetTrustedRemote(tx, connectedChain, remoteGMP)
	})
	require.NoError(t, err)

	e.ledger.Mint(tokenX, requester, 5_000_000)
	e.ledger.Mint(tokenY, solver, 5_000_000)
	e.ledger.Mint(tokenY, stranger, 5_000_000)
	return e
}

func (e *env) expiry() uint64 {
	return uint64(e.now.Add(time.Hour).Unix())
}

func (e *env) create(p *hub.CreateParams) (common.Hash, error) {
	var id common.Hash
	_, err := e.ledger.Execute(requester, func(tx *chain.Tx) error {
		var err error
		id, err = e.hub.Create(tx, p)
		return err
	})
	return id, err
}

func (e *env) deliver(t *testing.T, msg gmp.Message) {
	t.Helper()
	e.seq++
	_, err := e.ledger.Execute(relayer, func(tx *chain.Tx) error {
		return e.endpoint.Deliver(tx, connectedChain, remoteGMP, msg.Encode(), e.seq)
	})
	require.NoError(t, err)
}

func (e *env) outbox() []gmp.Message {
	var res []gmp.Message
	for _, ev := range e.ledger.Events(0, 0) {
		if ready, ok := ev.Data.(*transport.MessageReady); ok {
			msg, err := gmp.Decode(ready.Payload)
			if err != nil {
				panic(err)
			}
			res = append(res, msg)
		}
	}
	return res
}

func plainParams(e *env) *hub.CreateParams {
	return &hub.CreateParams{
		Offered:   hub.Leg{Asset: tokenX, Amount: 1_000},
		Desired:   hub.Leg{Asset: tokenY, Amount: 2_000},
		Expiry:    e.expiry(),
		Revocable: true,
	}
}

func outflowParams(e *env, id common.Hash) *hub.CreateParams {
	return &hub.CreateParams{
		IntentID:             id,
		Offered:              hub.Leg{Asset: tokenX, Amount: 1_000_000},
		Desired:              hub.Leg{Asset: tokenY, Amount: 1_000_000, ChainID: connectedChain},
		Expiry:               e.expiry(),
		Reservation:          solver,
		RequesterOnConnected: requester,
	}
}

func inflowParams(e *env, id common.Hash) *hub.CreateParams {
	return &hub.CreateParams{
		IntentID:    id,
		Offered:     hub.Leg{Asset: tokenX, Amount: 1_000_000, ChainID: connectedChain},
		Desired:     hub.Leg{Asset: tokenY, Amount: 1_000_000},
		Expiry:      e.expiry(),
		Reservation: solver,
	}
}

func TestHub_PlainSettlement(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	id, err := e.create(plainParams(e))
	require.NoError(t, err)
	require.Equal(t, uint64(5_000_000-1_000), e.ledger.BalanceOf(tokenX, requester))
	require.Equal(t, uint64(1_000), e.ledger.BalanceOf(tokenX, e.hub.Account()))

	status, err := e.hub.Status(id)
	require.NoError(t, err)
	require.Equal(t, hub.StatusCreated, status)

	_, err = e.ledger.Execute(solver, func(tx *chain.Tx) error {
		return e.hub.Settle(tx, id, hub.Payment{Asset: tokenY, Amount: 1_999}, nil)
	})
	require.ErrorIs(t, err, hub.ErrPaymentTooLow)

	_, err = e.ledger.Execute(solver, func(tx *chain.Tx) error {
		return e.hub.Settle(tx, id, hub.Payment{Asset: tokenX, Amount: 2_000}, nil)
	})
	require.ErrorIs(t, err, hub.ErrPaymentAssetMismatch)

	_, err = e.ledger.Execute(solver, func(tx *chain.Tx) error {
		return e.hub.Settle(tx, id, hub.Payment{Asset: tokenY, Amount: 2_000}, nil)
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), e.ledger.BalanceOf(tokenX, solver))
	require.Equal(t, uint64(2_000), e.ledger.BalanceOf(tokenY, requester))
	require.Zero(t, e.ledger.BalanceOf(tokenX, e.hub.Account()))

	rec, err := e.hub.Lookup(id)
	require.NoError(t, err)
	require.Equal(t, hub.StatusSettled, rec.Status)
	require.Equal(t, solver, rec.Settlement.Solver)

	_, err = e.ledger.Execute(solver, func(tx *chain.Tx) error {
		return e.hub.Settle(tx, id, hub.Payment{Asset: tokenY, Amount: 2_000}, nil)
	})
	require.ErrorIs(t, err, fault.ErrReplay)
}

func TestHub_UnfinishedSessionAborts(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	id, err := e.create(plainParams(e))
	require.NoError(t, err)

	_, err = e.ledger.Execute(solver, func(tx *chain.Tx) error {
		_, _, err := e.hub.StartSession(tx, id, solver)
		return err
	})
	require.ErrorIs(t, err, hub.ErrSessionNotFinished)
	require.Zero(t, e.ledger.BalanceOf(tokenX, solver))
	require.Equal(t, uint64(1_000), e.ledger.BalanceOf(tokenX, e.hub.Account()))

	_, err = e.ledger.Execute(solver, func(tx *chain.Tx) error {
		_, s, err := e.hub.StartSession(tx, id, solver)
		if err != nil {
			return err
		}
		if err = e.hub.FinishSession(tx, s, hub.Payment{Asset: tokenY, Amount: 2_000}, nil); err != nil {
			return err
		}
		return e.hub.FinishSession(tx, s, hub.Payment{Asset: tokenY, Amount: 2_000}, nil)
	})
	require.ErrorIs(t, err, hub.ErrSessionConsumed)
}

func TestHub_Revocation(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	id, err := e.create(plainParams(e))
	require.NoError(t, err)

	_, err = e.ledger.Execute(stranger, func(tx *chain.Tx) error {
		return e.hub.Revoke(tx, id)
	})
	require.ErrorIs(t, err, hub.ErrNotOwner)

	_, err = e.ledger.Execute(requester, func(tx *chain.Tx) error {
		return e.hub.Revoke(tx, id)
	})
	require.NoError(t, err)
	require.Equal(t, uint64(5_000_000), e.ledger.BalanceOf(tokenX, requester))

	status, err := e.hub.Status(id)
	require.NoError(t, err)
	require.Equal(t, hub.StatusRevoked, status)

	p := plainParams(e)
	p.IntentID = id
	_, err = e.create(p)
	require.ErrorIs(t, err, hub.ErrIntentExists)
}

func TestHub_CrossChainIntentsAreNotRevocable(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	signer, err := approval.NewEd25519Signer(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)

	reserved := plainParams(e)
	reserved.Reservation = solver
	oracle := plainParams(e)
	oracle.Oracle = &hub.OracleRequirement{Scheme: approval.SchemeEd25519, PublicKey: signer.PublicKey()}

	cases := map[string]*hub.CreateParams{
		"reservation": reserved,
		"oracle":      oracle,
		"outflow":     outflowParams(e, common.Hash{}),
		"inflow":      inflowParams(e, common.Hash{}),
	}
	for name, p := range cases {
		p.Revocable = true
		_, err = e.create(p)
		require.ErrorIs(t, err, hub.ErrRevocableCrossChain, name)

		p.Revocable = false
		id, err := e.create(p)
		require.NoError(t, err, name)
		_, err = e.ledger.Execute(requester, func(tx *chain.Tx) error {
			return e.hub.Revoke(tx, id)
		})
		require.ErrorIs(t, err, hub.ErrNotRevocable, name)
	}
}

func TestHub_CreateValidation(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	cases := []struct {
		name   string
		modify func(p *hub.CreateParams)
		err    error
	}{
		{"zero amount", func(p *hub.CreateParams) { p.Desired.Amount = 0 }, hub.ErrInvalidAmount},
		{"zero asset", func(p *hub.CreateParams) { p.Offered.Asset = gmp.Address{} }, hub.ErrInvalidAsset},
		{"past expiry", func(p *hub.CreateParams) { p.Expiry = uint64(e.now.Unix()) }, hub.ErrInvalidExpiry},
		{"both legs remote", func(p *hub.CreateParams) { p.Offered.ChainID = 7; p.Desired.ChainID = 8; p.Revocable = false }, hub.ErrUnsupportedRoute},
		{"outflow without solver", func(p *hub.CreateParams) {
			p.Desired.ChainID = connectedChain
			p.Revocable = false
			p.RequesterOnConnected = requester
		}, hub.ErrReservationRequired},
		{"outflow without recipient", func(p *hub.CreateParams) {
			p.Desired.ChainID = connectedChain
			p.Revocable = false
			p.Reservation = solver
		}, hub.ErrRecipientRequired},
		{"bad oracle key", func(p *hub.CreateParams) {
			p.Revocable = false
			p.Oracle = &hub.OracleRequirement{Scheme: approval.SchemeECDSA, PublicKey: []byte{1}}
		}, hub.ErrInvalidOracle},
		{"insufficient balance", func(p *hub.CreateParams) { p.Offered.Amount = 10_000_000 }, chain.ErrInsufficientBalance},
	}
	for _, c := range cases {
		p := plainParams(e)
		c.modify(p)
		_, err := e.create(p)
		require.ErrorIs(t, err, c.err, c.name)
	}
	for _, ev := range e.ledger.Events(0, 0) {
		require.NotEqual(t, hub.EventIntentCreated, ev.Name)
	}
}

func TestHub_SolverExclusivity(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	p := plainParams(e)
	p.Revocable = false
	p.Reservation = solver
	id, err := e.create(p)
	require.NoError(t, err)

	status, err := e.hub.Status(id)
	require.NoError(t, err)
	require.Equal(t, hub.StatusReserved, status)

	_, err = e.ledger.Execute(stranger, func(tx *chain.Tx) error {
		return e.hub.Settle(tx, id, hub.Payment{Asset: tokenY, Amount: 2_000}, nil)
	})
	require.ErrorIs(t, err, hub.ErrSolverNotReserved)

	// a third party may submit, funds still land at the reserved solver
	_, err = e.ledger.Execute(stranger, func(tx *chain.Tx) error {
		released, s, err := e.hub.StartSession(tx, id, solver)
		if err != nil {
			return err
		}
		require.Equal(t, uint64(1_000), released.Amount)
		return e.hub.FinishSession(tx, s, hub.Payment{Asset: tokenY, Amount: 2_000}, nil)
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), e.ledger.BalanceOf(tokenX, solver))
	require.Zero(t, e.ledger.BalanceOf(tokenX, stranger))
}

func TestHub_OracleWitness(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	signer, err := approval.NewEd25519Signer(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	intentA := common.HexToHash("0xaa")
	intentB := common.HexToHash("0xbb")
	for _, id := range []common.Hash{intentA, intentB} {
		p := outflowParams(e, id)
		p.Oracle = &hub.OracleRequirement{Scheme: approval.SchemeEd25519, PublicKey: signer.PublicKey(), MinReportedValue: 1_000_000}
		_, err = e.create(p)
		require.NoError(t, err)
	}

	sigA, err := signer.Sign(intentA)
	require.NoError(t, err)

	settle := func(id common.Hash, w *hub.Witness) error {
		_, err := e.ledger.Execute(solver, func(tx *chain.Tx) error {
			return e.hub.Settle(tx, id, hub.Payment{}, w)
		})
		return err
	}

	require.ErrorIs(t, settle(intentA, nil), hub.ErrWitnessRequired)
	require.ErrorIs(t, settle(intentB, &hub.Witness{ReportedValue: 1_000_000, Signature: sigA}), approval.ErrInvalidSignature)
	require.ErrorIs(t, settle(intentA, &hub.Witness{ReportedValue: 999_999, Signature: sigA}), hub.ErrReportedValueTooLow)
	require.NoError(t, settle(intentA, &hub.Witness{ReportedValue: 1_000_000, Signature: sigA}))

	require.Equal(t, uint64(1_000_000), e.ledger.BalanceOf(tokenX, solver))
	require.ErrorIs(t, settle(intentA, &hub.Witness{ReportedValue: 1_000_000, Signature: sigA}), hub.ErrIntentConsumed)
}

func TestHub_OutflowRequiresFulfillmentProof(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	id := common.HexToHash("0xbb")
	_, err := e.create(outflowParams(e, id))
	require.NoError(t, err)

	require.Equal(t, []gmp.Message{&gmp.IntentRequirements{
		IntentID:       id,
		RequesterAddr:  requester,
		AmountRequired: 1_000_000,
		TokenAddr:      tokenY,
		SolverAddr:     solver,
		Expiry:         e.expiry(),
	}}, e.outbox())

	settle := func() error {
		_, err := e.ledger.Execute(solver, func(tx *chain.Tx) error {
			return e.hub.Settle(tx, id, hub.Payment{}, nil)
		})
		return err
	}
	require.ErrorIs(t, settle(), hub.ErrFulfillmentMissing)

	// wrong solver is not recorded
	e.deliver(t, &gmp.FulfillmentProof{IntentID: id, SolverAddr: stranger, AmountFulfilled: 1_000_000, Timestamp: 1})
	require.ErrorIs(t, settle(), hub.ErrFulfillmentMissing)

	e.deliver(t, &gmp.FulfillmentProof{IntentID: id, SolverAddr: solver, AmountFulfilled: 1_000_000, Timestamp: 1})
	// repeated proof is a no-op
	e.deliver(t, &gmp.FulfillmentProof{IntentID: id, SolverAddr: solver, AmountFulfilled: 1_000_000, Timestamp: 2})

	rec, err := e.hub.Lookup(id)
	require.NoError(t, err)
	require.True(t, rec.Intent.FulfillmentRecorded)
	require.Equal(t, uint64(1), rec.Intent.Fulfillment.Timestamp)

	require.NoError(t, settle())
	require.Equal(t, uint64(1_000_000), e.ledger.BalanceOf(tokenX, solver))
}

func TestHub_InflowRequiresEscrowConfirmation(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	id := common.HexToHash("0xaa")
	_, err := e.create(inflowParams(e, id))
	require.NoError(t, err)
	require.Equal(t, uint64(5_000_000), e.ledger.BalanceOf(tokenX, requester), "offered leg lives on the connected chain")

	settle := func() error {
		_, err := e.ledger.Execute(solver, func(tx *chain.Tx) error {
			return e.hub.Settle(tx, id, hub.Payment{Asset: tokenY, Amount: 1_000_000}, nil)
		})
		return err
	}
	require.ErrorIs(t, settle(), hub.ErrEscrowNotConfirmed)

	e.deliver(t, &gmp.EscrowConfirmation{IntentID: id, EscrowID: common.Hash{1}, AmountEscrowed: 999, TokenAddr: tokenX, CreatorAddr: requester})
	rec, err := e.hub.Lookup(id)
	require.NoError(t, err)
	require.False(t, rec.Intent.EscrowConfirmed)
	require.Contains(t, rec.Intent.EscrowRejection, "escrowed 999")

	e.deliver(t, &gmp.EscrowConfirmation{IntentID: id, EscrowID: common.Hash{1}, AmountEscrowed: 1_000_000, TokenAddr: tokenX, CreatorAddr: requester})
	require.NoError(t, settle())
	require.Equal(t, uint64(1_000_000), e.ledger.BalanceOf(tokenY, requester))

	msgs := e.outbox()
	require.Len(t, msgs, 2)
	proof, ok := msgs[1].(*gmp.FulfillmentProof)
	require.True(t, ok)
	require.Equal(t, id, proof.IntentID)
	require.Equal(t, solver, proof.SolverAddr)
	require.Equal(t, uint64(1_000_000), proof.AmountFulfilled)
}

func TestHub_Expiry(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	id, err := e.create(outflowParams(e, common.Hash{}))
	require.NoError(t, err)

	_, err = e.ledger.Execute(requester, func(tx *chain.Tx) error {
		return e.hub.CancelExpired(tx, id)
	})
	require.ErrorIs(t, err, hub.ErrIntentNotExpired)

	e.now = e.now.Add(2 * time.Hour)
	status, err := e.hub.Status(id)
	require.NoError(t, err)
	require.Equal(t, hub.StatusExpired, status)

	_, err = e.ledger.Execute(solver, func(tx *chain.Tx) error {
		return e.hub.Settle(tx, id, hub.Payment{}, nil)
	})
	require.ErrorIs(t, err, hub.ErrIntentExpired)

	_, err = e.ledger.Execute(stranger, func(tx *chain.Tx) error {
		return e.hub.CancelExpired(tx, id)
	})
	require.ErrorIs(t, err, hub.ErrNotOwner)

	_, err = e.ledger.Execute(requester, func(tx *chain.Tx) error {
		return e.hub.CancelExpired(tx, id)
	})
	require.NoError(t, err)
	require.Equal(t, uint64(5_000_000), e.ledger.BalanceOf(tokenX, requester))

	status, err = e.hub.Status(id)
	require.NoError(t, err)
	require.Equal(t, hub.StatusExpired, status)
}

func TestHub_DerivedIDsAreUnique(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	first, err := e.create(plainParams(e))
	require.NoError(t, err)
	second, err := e.create(plainParams(e))
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	for _, id := range []common.Hash{first, second} {
		_, err = e.hub.Lookup(id)
		require.NoError(t, err)
	}
}
