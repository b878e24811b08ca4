package cli

import (
	"fmt"

	"github.com/alarmvault/alarmvault/internal/config"
	"github.com/alarmvault/alarmvault/internal/crypto"
	"github.com/alarmvault/alarmvault/internal/kv"
	"github.com/alarmvault/alarmvault/internal/logging"
	"github.com/alarmvault/alarmvault/internal/monitor"
	"github.com/alarmvault/alarmvault/internal/securestore"
	"github.com/alarmvault/alarmvault/internal/tamperlog"
)

// stack is the wired storage layer commands operate on
type stack struct {
	kv    kv.Store
	store *securestore.Store
	chain *tamperlog.Chain
}

// openStack opens key material, the kv backend and the secure store
// for the loaded config. Callers must close it.
func openStack(c *config.Config) (*stack, error) {
	if err := c.EnsureDataDir(); err != nil {
		return nil, err
	}

	secret, err := crypto.LoadOrCreateDeviceSecret(c.Keys.EncryptionSaltPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load device secret: %w", err)
	}
	enc, err := crypto.NewEncryptor(secret)
	if err != nil {
		return nil, err
	}
	signer, err := crypto.LoadOrCreateSigner(c.Keys.SigningKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	backend, err := kv.Open(c.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store backend: %w", err)
	}

	chain, err := tamperlog.New(c.TamperLogPath())
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to open tamper log: %w", err)
	}

	store := securestore.New(backend, enc, signer, logging.L().Named("securestore"),
		securestore.WithAuditLog(chain))

	return &stack{kv: backend, store: store, chain: chain}, nil
}

func (s *stack) close() {
	s.store.Close()
	s.kv.Close()
}

// newMonitor builds the integrity monitor over an open stack and
// cross-wires the tamper notification and status paths.
func (s *stack) newMonitor(c *config.Config, extra ...monitor.Option) *monitor.Monitor {
	opts := []monitor.Option{
		monitor.WithOwner(c.OwnerID),
		monitor.WithInterval(c.MonitorInterval()),
		monitor.WithTrackedCap(c.Monitor.MaxTrackedAlarms),
		monitor.WithUpdateWindow(c.UpdateWindow()),
		monitor.WithAuditLog(s.chain),
	}
	opts = append(opts, extra...)
	mon := monitor.New(s.store, logging.L().Named("monitor"), opts...)
	s.store.SetNotifier(mon)
	s.store.SetStatusSource(mon)
	return mon
}
