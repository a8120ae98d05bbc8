package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/omni/intent-bridge/approval"
	"github.com/omni/intent-bridge/gmp"
)

type ChainType string

const (
	ChainTypeLocalnet ChainType = "localnet"
	ChainTypeEVM      ChainType = "evm"
)

var (
	ErrInvalidConfig    = errors.New("invalid config")
	ErrDuplicateChainID = errors.New("duplicate chain id")
)

type RPCConfig struct {
	Host    string        `yaml:"host"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
}

type ChainConfig struct {
	Name       string      `yaml:"-"`
	ChainID    uint32      `yaml:"chain_id"`
	ChainType  ChainType   `yaml:"chain_type"`
	GMPAddress gmp.Address `yaml:"gmp_address"`
	RPC        *RPCConfig  `yaml:"rpc"`

	// AllowUnmatchedEscrows lets escrows be created before the hub requirements
	// arrive. Such escrows are never checked against the requester.
	AllowUnmatchedEscrows bool   `yaml:"allow_unmatched_escrows"`
	Confirmations         uint64 `yaml:"confirmations"`
}

type BackoffConfig struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

type BreakerConfig struct {
	FailureThreshold uint          `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

type RelayConfig struct {
	Address      gmp.Address    `yaml:"address"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	BatchSize    int            `yaml:"batch_size"`
	Backoff      *BackoffConfig `yaml:"backoff"`
	Breaker      *BreakerConfig `yaml:"breaker"`
}

type VerifierConfig struct {
	Scheme            approval.Scheme `yaml:"scheme"`
	PrivateKey        string          `yaml:"private_key"`
	PollInterval      time.Duration   `yaml:"poll_interval"`
	EventFeedSize     int             `yaml:"event_feed_size"`
	AutoApproveInflow bool            `yaml:"auto_approve_inflow"`
}

type DBConfig struct {
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	DB             string `yaml:"database"`
	MigrationsPath string `yaml:"migrations_path"`
}

type NATSConfig struct {
	URL     string        `yaml:"url"`
	Subject string        `yaml:"subject"`
	Stream  string        `yaml:"stream"`
	Timeout time.Duration `yaml:"timeout"`
}

// GenesisBalance is minted on chain ("hub" or a connected chain name) at startup.
type GenesisBalance struct {
	Chain   string      `yaml:"chain"`
	Asset   gmp.Address `yaml:"asset"`
	Account gmp.Address `yaml:"account"`
	Amount  uint64      `yaml:"amount"`
}

type PresenterConfig struct {
	Host string `yaml:"host"`
}

type Config struct {
	Hub       *ChainConfig            `yaml:"hub"`
	Connected map[string]*ChainConfig `yaml:"connected"`
	Admin     gmp.Address             `yaml:"admin"`
	Relay     *RelayConfig            `yaml:"relay"`
	Verifier  *VerifierConfig         `yaml:"verifier"`
	DBConfig  *DBConfig               `yaml:"postgres"`
	NATS      *NATSConfig             `yaml:"nats"`
	LogLevel  logrus.Level            `yaml:"log_level"`
	Presenter *PresenterConfig        `yaml:"presenter"`
	Genesis   []*GenesisBalance       `yaml:"genesis"`
}

func (cfg *Config) init() error {
	if cfg.Hub == nil {
		return fmt.Errorf("%w: hub chain is not configured", ErrInvalidConfig)
	}
	cfg.Hub.Name = "hub"
	if cfg.Hub.ChainType == "" {
		cfg.Hub.ChainType = ChainTypeLocalnet
	}
	if len(cfg.Connected) == 0 {
		return fmt.Errorf("%w: at least one connected chain is required", ErrInvalidConfig)
	}
	seen := map[uint32]string{cfg.Hub.ChainID: cfg.Hub.Name}
	for name, c := range cfg.Connected {
		if c == nil {
			return fmt.Errorf("%w: empty config for connected chain %s", ErrInvalidConfig, name)
		}
		c.Name = name
		if other, ok := seen[c.ChainID]; ok {
			return fmt.Errorf("%w: %d is used by %s and %s", ErrDuplicateChainID, c.ChainID, other, name)
		}
		seen[c.ChainID] = name
		switch c.ChainType {
		case "":
			c.ChainType = ChainTypeLocalnet
		case ChainTypeLocalnet:
		case ChainTypeEVM:
			if c.RPC == nil || c.RPC.Host == "" {
				return fmt.Errorf("%w: evm chain %s requires rpc host", ErrInvalidConfig, name)
			}
		default:
			return fmt.Errorf("%w: chain %s has unknown type %q", ErrInvalidConfig, name, c.ChainType)
		}
		if c.RPC != nil && c.RPC.Timeout == 0 {
			c.RPC.Timeout = 30 * time.Second
		}
	}

	if cfg.Relay == nil {
		cfg.Relay = new(RelayConfig)
	}
	if cfg.Relay.PollInterval == 0 {
		cfg.Relay.PollInterval = 2 * time.Second
	}
	if cfg.Relay.BatchSize == 0 {
		cfg.Relay.BatchSize = 100
	}
	if cfg.Relay.Backoff == nil {
		cfg.Relay.Backoff = &BackoffConfig{Min: 500 * time.Millisecond, Max: 30 * time.Second}
	}
	if cfg.Relay.Breaker == nil {
		cfg.Relay.Breaker = &BreakerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second}
	}

	if cfg.Verifier != nil {
		if !cfg.Verifier.Scheme.Valid() {
			return fmt.Errorf("%w: unknown verifier scheme %q", ErrInvalidConfig, cfg.Verifier.Scheme)
		}
		if cfg.Verifier.PrivateKey == "" {
			return fmt.Errorf("%w: verifier private key is empty", ErrInvalidConfig)
		}
		if cfg.Verifier.PollInterval == 0 {
			cfg.Verifier.PollInterval = 5 * time.Second
		}
		if cfg.Verifier.EventFeedSize < 0 {
			return fmt.Errorf("%w: negative verifier event feed size %d", ErrInvalidConfig, cfg.Verifier.EventFeedSize)
		}
		if cfg.Verifier.EventFeedSize == 0 {
			cfg.Verifier.EventFeedSize = 1000
		}
	}

	for i, g := range cfg.Genesis {
		if g.Chain != cfg.Hub.Name && cfg.Connected[g.Chain] == nil {
			return fmt.Errorf("%w: genesis entry %d names unknown chain %q", ErrInvalidConfig, i, g.Chain)
		}
	}

	// panic level is never configured on purpose, treat it as unset
	if cfg.LogLevel == logrus.PanicLevel {
		cfg.LogLevel = logrus.InfoLevel
	}
	if cfg.DBConfig != nil && cfg.DBConfig.MigrationsPath == "" {
		cfg.DBConfig.MigrationsPath = "db/migrations"
	}
	if cfg.NATS != nil {
		if cfg.NATS.Subject == "" {
			cfg.NATS.Subject = "intents.gmp.message_ready"
		}
		if cfg.NATS.Timeout == 0 {
			cfg.NATS.Timeout = 10 * time.Second
		}
	}
	return nil
}

func ReadConfig(blob []byte) (*Config, error) {
	cfg := new(Config)
	if err := parseYaml(cfg, blob); err != nil {
		return nil, err
	}
	if err := cfg.init(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadConfigWithEnv substitutes ${VAR} references before parsing.
func ReadConfigWithEnv(blob []byte) (*Config, error) {
	return ReadConfig([]byte(os.ExpandEnv(string(blob))))
}

// ReadConfigFromFile loads an optional .env file next to the working
// directory and then reads the yaml config at path.
func ReadConfigFromFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("can't load .env file: %w", err)
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read config file: %w", err)
	}
	return ReadConfigWithEnv(blob)
}
