package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show storage and tamper log status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := RequireConfig(); err != nil {
		return err
	}

	st, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	status, err := st.store.Status(context.Background())
	if err != nil {
		return err
	}

	PrintHeader("Alarmvault Status")
	PrintInfo("Device:        %s", cfg.DeviceName)
	PrintInfo("Owner:         %s", cfg.OwnerID)
	PrintInfo("Backend:       %s", cfg.Store.Backend)
	PrintDivider()
	PrintInfo("Primary data:  %v", status.HasPrimary)
	PrintInfo("Event history: %v", status.HasEvents)
	PrintInfo("Backup slots:  %d", status.BackupCount)
	PrintInfo("Tamper log:    %d entries", st.chain.Len())

	if err := st.chain.VerifyChain(); err != nil {
		PrintWarning("Tamper log chain verification FAILED: %v", err)
	} else {
		PrintInfo("Tamper chain:  intact")
	}
	return nil
}
