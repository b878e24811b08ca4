package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alarmvault/alarmvault/internal/config"
	"github.com/alarmvault/alarmvault/internal/crypto"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the vault (config, keys, data directory)",
	Long: `Initialize a new alarmvault: write the configuration, generate the
device encryption secret and the signing key, and create the data
directory.`,
	Example: `  # Default setup (sqlite backend)
  alarmvault init --owner alice

  # Redis backend
  alarmvault init --owner alice --backend redis --redis-addr localhost:6379`,
	RunE: runInit,
}

func init() {
	f := initCmd.Flags()
	f.String("owner", "", "Owner identifier bound to stored data")
	f.String("device", "", "Device name (default: alarmvault)")
	f.String("backend", config.BackendSQLite, "Store backend: sqlite, redis or memory")
	f.String("redis-addr", "", "Redis address (backend=redis)")
	f.String("listen", "", "API listen address")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if config.Exists(flagConfigDir) {
		return fmt.Errorf("already initialized - remove the config directory to reinitialize")
	}

	c := config.Default(flagConfigDir)

	owner, _ := cmd.Flags().GetString("owner")
	if owner == "" {
		owner = uuid.NewString()
	}
	c.OwnerID = owner

	if device, _ := cmd.Flags().GetString("device"); device != "" {
		c.DeviceName = device
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		c.Store.Backend = backend
	}
	if addr, _ := cmd.Flags().GetString("redis-addr"); addr != "" {
		c.Store.RedisAddr = addr
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		c.API.Listen = listen
	}

	if err := c.Validate(); err != nil {
		return err
	}
	if err := c.Save(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := c.EnsureDataDir(); err != nil {
		return err
	}

	if _, err := crypto.LoadOrCreateDeviceSecret(c.Keys.EncryptionSaltPath); err != nil {
		return fmt.Errorf("failed to create device secret: %w", err)
	}
	signer, err := crypto.LoadOrCreateSigner(c.Keys.SigningKeyPath)
	if err != nil {
		return fmt.Errorf("failed to create signing key: %w", err)
	}

	PrintSuccess("Initialized alarmvault in %s", c.ConfigDir)
	PrintInfo("  Owner:     %s", c.OwnerID)
	PrintInfo("  Backend:   %s", c.Store.Backend)
	PrintInfo("  Key ID:    %s", signer.KeyID())
	PrintInfo("  API:       %s", c.API.Listen)
	return nil
}
