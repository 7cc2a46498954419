// Package app wires a workspace's config into a running engine: store,
// ledger adapter, content service and notification sinks.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"caseline/internal/config"
	"caseline/internal/content"
	"caseline/internal/db"
	"caseline/internal/engine"
	"caseline/internal/ledger"
	"caseline/internal/ledger/ethereum"
	"caseline/internal/ledger/fabricsim"
	"caseline/internal/migrate"
	"caseline/internal/notify"
	"caseline/internal/repo"
)

const (
	defaultPrivateKeyEnv = "CASELINE_LEDGER_KEY"
	defaultPinataJWTEnv  = "CASELINE_PINATA_JWT"
)

// App holds everything opened for one workspace. Close releases it.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Dialect   string
	Store     repo.Store
	Ledger    ledger.Ledger
	Content   content.Service
	Engine    engine.Engine
	Sinks     []notify.Sink
	Log       *logrus.Entry

	closers []func()
}

// Open loads workspace config, migrates the store and builds the engine.
// Admin wallets from config are seeded on every open.
func Open(ctx context.Context, workspace string, log *logrus.Entry) (*App, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, workspace, cfg, log)
}

// OpenWithConfig is Open with an already parsed config.
func OpenWithConfig(ctx context.Context, workspace string, cfg *config.Config, log *logrus.Entry) (*App, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	a := &App{Workspace: workspace, Config: cfg, Log: log}
	conn, dialect, err := db.Open(db.Config{Workspace: workspace, Driver: cfg.Store.Driver, DSN: cfg.Store.DSN})
	if err != nil {
		return nil, err
	}
	a.DB, a.Dialect = conn, dialect
	a.closers = append(a.closers, func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.Store = repo.New(conn, dialect)

	l, err := NewLedger(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ledger = l
	svc, err := NewContent(workspace, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Content = svc

	a.Engine = engine.New(a.Store, a.Ledger, cfg, log)
	if err := SeedAdmins(ctx, a.Engine, cfg.Admins); err != nil {
		a.Close()
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"store":   dialect,
		"ledger":  ledgerName(cfg),
		"content": contentName(cfg),
	}).Debug("workspace opened")
	return a, nil
}

// StartNotifications builds the configured sinks and returns a dispatcher
// for them, or nil when none are configured.
func (a *App) StartNotifications() (*notify.Dispatcher, error) {
	sinks, closeFn, err := notify.SinksFromConfig(a.Config)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeFn)
	a.Sinks = sinks
	if len(sinks) == 0 {
		return nil, nil
	}
	return notify.NewDispatcher(a.Store, sinks, a.Log), nil
}

// Close releases resources in reverse open order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// NewLedger builds the configured ledger adapter. A nil ledger disables
// ledger calls entirely.
func NewLedger(ctx context.Context, cfg *config.Config) (ledger.Ledger, error) {
	switch cfg.Ledger.Driver {
	case config.LedgerNone:
		return nil, nil
	case "", config.LedgerMemory:
		return ledger.NewMemory(), nil
	case config.LedgerFabric:
		name := cfg.Ledger.Fabric.Name
		if name == "" {
			name = "caseline"
		}
		l, err := fabricsim.New(name)
		if err != nil {
			return nil, fmt.Errorf("fabric ledger: %w", err)
		}
		return l, nil
	case config.LedgerEthereum:
		eth := cfg.Ledger.Ethereum
		keyEnv := eth.PrivateKeyEnv
		if keyEnv == "" {
			keyEnv = defaultPrivateKeyEnv
		}
		key := strings.TrimSpace(os.Getenv(keyEnv))
		if key == "" {
			return nil, fmt.Errorf("%s is required for the ethereum ledger", keyEnv)
		}
		l, err := ethereum.Dial(ctx, ethereum.Config{
			RPCURL:          eth.RPCURL,
			ChainID:         eth.ChainID,
			ContractAddress: eth.ContractAddress,
			PrivateKeyHex:   key,
		})
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, fmt.Errorf("unsupported ledger driver %q", cfg.Ledger.Driver)
}

// NewContent builds the configured content service.
func NewContent(workspace string, cfg *config.Config) (content.Service, error) {
	switch cfg.Content.Driver {
	case "", config.ContentLocal:
		dir := cfg.Content.Dir
		if dir == "" {
			dir = filepath.Join(workspace, ".caseline", "documents")
		} else if !filepath.IsAbs(dir) {
			dir = filepath.Join(workspace, dir)
		}
		return content.Local{Dir: dir, Gateway: cfg.Content.Gateway}, nil
	case config.ContentPinata:
		jwtEnv := cfg.Content.Pinata.JWTEnv
		if jwtEnv == "" {
			jwtEnv = defaultPinataJWTEnv
		}
		token := strings.TrimSpace(os.Getenv(jwtEnv))
		if token == "" {
			return nil, fmt.Errorf("%s is required for the pinata content driver", jwtEnv)
		}
		return content.Pinata{
			Endpoint: cfg.Content.Pinata.Endpoint,
			Gateway:  cfg.Content.Gateway,
			JWT:      token,
		}, nil
	}
	return nil, fmt.Errorf("unsupported content driver %q", cfg.Content.Driver)
}

// SeedAdmins ensures every configured admin wallet is a verified admin.
func SeedAdmins(ctx context.Context, e engine.Engine, wallets []string) error {
	for _, w := range wallets {
		if _, err := e.EnsureAdmin(ctx, w); err != nil {
			return fmt.Errorf("seed admin %s: %w", w, err)
		}
	}
	return nil
}

func ledgerName(cfg *config.Config) string {
	if cfg.Ledger.Driver == "" {
		return config.LedgerMemory
	}
	return cfg.Ledger.Driver
}

func contentName(cfg *config.Config) string {
	if cfg.Content.Driver == "" {
		return config.ContentLocal
	}
	return cfg.Content.Driver
}
