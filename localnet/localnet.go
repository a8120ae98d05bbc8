package localnet

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/omni/intent-bridge/approval"
	"github.com/omni/intent-bridge/chain"
	"github.com/omni/intent-bridge/config"
	"github.com/omni/intent-bridge/connected"
	"github.com/omni/intent-bridge/ethclient"
	"github.com/omni/intent-bridge/gmp"
	"github.com/omni/intent-bridge/hub"
	"github.com/omni/intent-bridge/logging"
	"github.com/omni/intent-bridge/presenter"
	"github.com/omni/intent-bridge/relay"
	"github.com/omni/intent-bridge/repository"
	"github.com/omni/intent-bridge/router"
	"github.com/omni/intent-bridge/transport"
	"github.com/omni/intent-bridge/verifier"
)

// Chain is one in-process ledger with its GMP endpoint.
type Chain struct {
	Config   *config.ChainConfig
	Ledger   *chain.Ledger
	Sender   *transport.Sender
	Endpoint *router.Endpoint
}

type ConnectedChain struct {
	*Chain
	Escrow    *connected.EscrowModule
	Validator *connected.Validator
}

// Network runs the hub, every localnet connected chain, a relay per direction
// and, when configured, the verifier.
type Network struct {
	logger    logging.Logger
	cfg       *config.Config
	Hub       *Chain
	HubModule *hub.Hub
	Connected map[uint32]*ConnectedChain
	Relays    []*relay.Relay

	Verifier  *verifier.Service
	Feed      *verifier.Feed
	Poller    *verifier.Poller
	Presenter *presenter.Presenter
}

func New(logger logging.Logger, cfg *config.Config, repo *repository.Repo, clock chain.Clock) (*Network, error) {
	n := &Network{
		logger:    logger,
		cfg:       cfg,
		Connected: make(map[uint32]*ConnectedChain, len(cfg.Connected)),
	}
	n.Hub = newChain(cfg.Hub, cfg.Admin, clock)
	n.HubModule = hub.New(n.Hub.Ledger, n.Hub.Sender)
	n.HubModule.RegisterHandlers(n.Hub.Endpoint)

	for _, name := range connectedNames(cfg) {
		chainCfg := cfg.Connected[name]
		if chainCfg.ChainType != config.ChainTypeLocalnet {
			continue
		}
		c := &ConnectedChain{Chain: newChain(chainCfg, cfg.Admin, clock)}
		c.Escrow = connected.NewEscrowModule(c.Ledger, c.Sender, cfg.Hub.ChainID, !chainCfg.AllowUnmatchedEscrows)
		c.Validator = connected.NewValidator(c.Ledger, c.Sender, c.Escrow, cfg.Hub.ChainID)
		c.Escrow.RegisterHandlers(c.Endpoint)
		c.Validator.RegisterHandlers(c.Endpoint)
		if err := n.link(c.Chain); err != nil {
			return nil, err
		}
		n.Connected[chainCfg.ChainID] = c

		relayLogger := logger.WithField("service", "relay")
		n.Relays = append(n.Relays,
			relay.NewRelay(relayLogger, repo, cfg.Relay, n.Hub.Ledger,
				relay.NewLedgerDestination(c.Ledger, c.Endpoint, cfg.Relay.Address)),
			relay.NewRelay(relayLogger, repo, cfg.Relay, c.Ledger,
				relay.NewLedgerDestination(n.Hub.Ledger, n.Hub.Endpoint, cfg.Relay.Address)),
		)
	}

	if cfg.Verifier != nil {
		if err := n.initVerifier(repo); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func newChain(cfg *config.ChainConfig, admin gmp.Address, clock chain.Clock) *Chain {
	return &Chain{
		Config:   cfg,
		Ledger:   chain.NewLedger(cfg.ChainID, clock),
		Sender:   transport.NewSender(cfg.GMPAddress, admin),
		Endpoint: router.NewEndpoint(cfg.GMPAddress, admin),
	}
}

func connectedNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Connected))
	for name := range cfg.Connected {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// link registers the hub and c as each other's remote endpoints and allows the
// relay account on both sides.
func (n *Network) link(c *Chain) error {
	relayer := n.cfg.Relay.Address
	_, err := n.Hub.Ledger.Execute(n.cfg.Admin, func(tx *chain.Tx) error {
		if err := n.Hub.Sender.SetRemoteEndpoint(tx, c.Config.ChainID, c.Config.GMPAddress); err != nil {
			return err
		}
		if err := n.Hub.Endpoint.SetRelay(tx, relayer, true); err != nil {
			return err
		}
		return n.Hub.Endpoint.SetTrustedRemote(tx, c.Config.ChainID, c.Config.GMPAddress)
	})
	if err != nil {
		return fmt.Errorf("can't link hub to %s: %w", c.Config.Name, err)
	}
	_, err = c.Ledger.Execute(n.cfg.Admin, func(tx *chain.Tx) error {
		if err := c.Sender.SetRemoteEndpoint(tx, n.Hub.Config.ChainID, n.Hub.Config.GMPAddress); err != nil {
			return err
		}
		if err := c.Endpoint.SetRelay(tx, relayer, true); err != nil {
			return err
		}
		return c.Endpoint.SetTrustedRemote(tx, n.Hub.Config.ChainID, n.Hub.Config.GMPAddress)
	})
	if err != nil {
		return fmt.Errorf("can't link %s to hub: %w", c.Config.Name, err)
	}
	return nil
}

func (n *Network) initVerifier(repo *repository.Repo) error {
	vcfg := n.cfg.Verifier
	signer, err := approval.NewSigner(vcfg.Scheme, vcfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("can't create verifier signer: %w", err)
	}
	logger := n.logger.WithField("service", "verifier")
	n.Verifier = verifier.NewService(logger, n.Hub.Ledger.Genesis(), signer, n.HubModule, repo.Approvals)

	sources := []verifier.EventSource{n.Hub.Ledger}
	for _, name := range connectedNames(n.cfg) {
		chainCfg := n.cfg.Connected[name]
		switch chainCfg.ChainType {
		case config.ChainTypeLocalnet:
			c := n.Connected[chainCfg.ChainID]
			n.Verifier.AddEscrowReader(chainCfg.ChainID, c.Escrow)
			n.Verifier.AddTransactionReader(chainCfg.ChainID, verifier.NewLedgerReader(c.Ledger))
			sources = append(sources, c.Ledger)
		case config.ChainTypeEVM:
			client, err := ethclient.NewClient(chainCfg.RPC.Host, chainCfg.RPC.Timeout, chainCfg.ChainID, chainCfg.RPC.RPS)
			if err != nil {
				return fmt.Errorf("can't dial rpc client for %s: %w", name, err)
			}
			n.Verifier.AddTransactionReader(chainCfg.ChainID, verifier.NewEVMReader(client, chainCfg.Confirmations))
		}
		logger.WithFields(logrus.Fields{
			"chain":      name,
			"chain_id":   chainCfg.ChainID,
			"chain_type": chainCfg.ChainType,
		}).Info("registered connected chain")
	}

	n.Feed = verifier.NewFeed(vcfg.EventFeedSize)
	n.Poller = verifier.NewPoller(logger, n.Verifier, n.Feed, vcfg.PollInterval, vcfg.AutoApproveInflow, sources...)
	n.Presenter = presenter.NewPresenter(n.logger.WithField("service", "presenter"), n.Verifier, n.Feed, repo.RelayDeliveries)
	return nil
}

// SetPublisher mirrors every relayed message to p.
func (n *Network) SetPublisher(p relay.Publisher) {
	for _, r := range n.Relays {
		r.SetPublisher(p)
	}
}

// Start runs the relays and the verifier poller until ctx is done.
func (n *Network) Start(ctx context.Context) *sync.WaitGroup {
	wg := new(sync.WaitGroup)
	for _, r := range n.Relays {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Start(ctx)
		}()
	}
	if n.Poller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Poller.Start(ctx)
		}()
	}
	return wg
}

// Flush relays every pending message until no route moves anything.
func (n *Network) Flush(ctx context.Context) error {
	for {
		moved := 0
		for _, r := range n.Relays {
			c, err := r.RelayBatch(ctx)
			if err != nil {
				return fmt.Errorf("can't relay on route %s: %w", r.Route(), err)
			}
			moved += c
		}
		if moved == 0 {
			return nil
		}
	}
}

// ConnectedByName is a lookup helper for the binary and tests.
func (n *Network) ConnectedByName(name string) (*ConnectedChain, bool) {
	chainCfg, ok := n.cfg.Connected[name]
	if !ok {
		return nil, false
	}
	c, ok := n.Connected[chainCfg.ChainID]
	return c, ok
}

// ApplyGenesis mints the configured starting balances.
func (n *Network) ApplyGenesis() error {
	for _, g := range n.cfg.Genesis {
		ledger := n.Hub.Ledger
		if g.Chain != n.Hub.Config.Name {
			c, ok := n.ConnectedByName(g.Chain)
			if !ok {
				return fmt.Errorf("can't mint on %s: not a localnet chain", g.Chain)
			}
			ledger = c.Ledger
		}
		ledger.Mint(g.Asset, g.Account, g.Amount)
		n.logger.WithFields(logrus.Fields{
			"chain":   g.Chain,
			"asset":   g.Asset,
			"account": g.Account,
			"amount":  g.Amount,
		}).Debug("minted genesis balance")
	}
	return nil
}
