// Package cli implements the alarmvault command line interface
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alarmvault/alarmvault/internal/config"
	"github.com/alarmvault/alarmvault/internal/logging"
)

var (
	// Version is set at build time
	Version = "1.0.0"

	// App state
	cfg    *config.Config
	cfgErr error

	flagVerbose   bool
	flagConfigDir string
)

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "alarmvault",
	Short: "Encrypted, tamper-evident alarm storage",
	Long: `Alarmvault stores alarm data encrypted, signed and checksummed, keeps a
rotating backup chain, and runs a continuous integrity monitor that
detects tampering and recovers automatically from the newest valid
backup.`,
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// SetVersion sets the version string
func SetVersion(v string) {
	Version = v
	rootCmd.Version = v
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&flagConfigDir, "config", "", "Config directory (default ~/.alarmvault)")

	cobra.OnInitialize(initLogging, initConfig)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func initLogging() {
	logCfg := logging.DefaultConfig()
	if flagVerbose {
		logCfg.Level = "debug"
		logCfg.Development = true
	}
	_ = logging.Init(logCfg)
}

func initConfig() {
	cfg, cfgErr = config.Load(flagConfigDir)
}

// RequireConfig returns an error if config is not loaded
func RequireConfig() error {
	if cfgErr != nil {
		return fmt.Errorf("alarmvault not initialized - run 'alarmvault init' first (%w)", cfgErr)
	}
	if cfg == nil {
		return fmt.Errorf("alarmvault not initialized - run 'alarmvault init' first")
	}
	return nil
}
