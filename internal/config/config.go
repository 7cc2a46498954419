package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"caseline/internal/domain"
)

// Config models caseline.yml.
type Config struct {
	Admins     []string `yaml:"admins"`
	Categories []string `yaml:"categories"`
	Store      struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`
	Ledger   LedgerConfig    `yaml:"ledger"`
	Content  ContentConfig   `yaml:"content"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	NATS     struct {
		URL           string   `yaml:"url"`
		SubjectPrefix string   `yaml:"subject_prefix"`
		Events        []string `yaml:"events"`
	} `yaml:"nats"`
}

type LedgerConfig struct {
	Driver         string `yaml:"driver"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Ethereum       struct {
		RPCURL          string `yaml:"rpc_url"`
		ChainID         int64  `yaml:"chain_id"`
		ContractAddress string `yaml:"contract_address"`
		PrivateKeyEnv   string `yaml:"private_key_env"`
	} `yaml:"ethereum"`
	Fabric struct {
		Name string `yaml:"name"`
	} `yaml:"fabric"`
}

type ContentConfig struct {
	Driver  string `yaml:"driver"`
	Dir     string `yaml:"dir"`
	Gateway string `yaml:"gateway"`
	Pinata  struct {
		Endpoint string `yaml:"endpoint"`
		JWTEnv   string `yaml:"jwt_env"`
	} `yaml:"pinata"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

const (
	LedgerMemory   = "memory"
	LedgerFabric   = "fabric"
	LedgerEthereum = "ethereum"
	LedgerNone     = "none"

	ContentLocal  = "local"
	ContentPinata = "pinata"

	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

const defaultLedgerTimeout = 90 * time.Second

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with caseline init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	for i, wallet := range c.Admins {
		norm, ok := domain.NormalizeWallet(wallet)
		if !ok {
			return fmt.Errorf("config.admins[%d] is not a wallet address: %q", i, wallet)
		}
		c.Admins[i] = norm
	}
	for _, cat := range c.Categories {
		if strings.TrimSpace(cat) == "" {
			return fmt.Errorf("config.categories contains an empty category")
		}
	}
	switch c.Store.Driver {
	case "", StoreSQLite:
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("config.store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config.store.driver %q is not supported", c.Store.Driver)
	}
	switch c.Ledger.Driver {
	case "", LedgerMemory, LedgerFabric, LedgerNone:
	case LedgerEthereum:
		if c.Ledger.Ethereum.RPCURL == "" {
			return fmt.Errorf("config.ledger.ethereum.rpc_url is required")
		}
		if c.Ledger.Ethereum.ChainID <= 0 {
			return fmt.Errorf("config.ledger.ethereum.chain_id is required")
		}
		if _, ok := domain.NormalizeWallet(c.Ledger.Ethereum.ContractAddress); !ok {
			return fmt.Errorf("config.ledger.ethereum.contract_address is not an address")
		}
	default:
		return fmt.Errorf("config.ledger.driver %q is not supported", c.Ledger.Driver)
	}
	if c.Ledger.TimeoutSeconds < 0 {
		return fmt.Errorf("config.ledger.timeout_seconds must be positive")
	}
	switch c.Content.Driver {
	case "", ContentLocal, ContentPinata:
	default:
		return fmt.Errorf("config.content.driver %q is not supported", c.Content.Driver)
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// LedgerTimeout is the bound applied to each ledger confirmation wait.
func (c *Config) LedgerTimeout() time.Duration {
	if c == nil || c.Ledger.TimeoutSeconds == 0 {
		return defaultLedgerTimeout
	}
	return time.Duration(c.Ledger.TimeoutSeconds) * time.Second
}

// IsAdminWallet reports whether wallet is listed under admins.
func (c *Config) IsAdminWallet(wallet string) bool {
	if c == nil {
		return false
	}
	norm, _ := domain.NormalizeWallet(wallet)
	for _, w := range c.Admins {
		if w == norm {
			return true
		}
	}
	return false
}

// AllowsCategory reports whether category is accepted for new cases.
// An empty category list accepts anything.
func (c *Config) AllowsCategory(category string) bool {
	if c == nil || len(c.Categories) == 0 {
		return true
	}
	for _, cat := range c.Categories {
		if cat == category {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseline.yml")
}

// GenerateDefault returns default config YAML seeded with one admin wallet.
func GenerateDefault(adminWallet string) string {
	return fmt.Sprintf(defaultTemplate, adminWallet)
}

// LoadOptional returns the default config if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(""), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default(adminWallet string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(adminWallet))).Decode(&cfg)
	if adminWallet == "" {
		cfg.Admins = nil
	}
	_ = cfg.Validate()
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `admins:
  - "%s"

categories: [theft, fraud, assault, cyber-crime, vandalism, harassment, other]

store:
  driver: sqlite

ledger:
  driver: memory
  timeout_seconds: 90
  ethereum:
    rpc_url: ""
    chain_id: 11155111
    contract_address: "0x05d897619f5B6F83e949704951FF76ffAE5c4fBf"
    private_key_env: CASELINE_LEDGER_KEY
  fabric:
    name: caseregistry

content:
  driver: local
  dir: .caseline/blobs
  # gateway: https://gateway.pinata.cloud/ipfs
  pinata:
    endpoint: https://api.pinata.cloud/pinning/pinFileToIPFS
    jwt_env: CASELINE_PINATA_JWT

webhooks: []

nats:
  url: ""
  subject_prefix: caseline
`
