package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alarmvault/alarmvault/internal/filelock"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all stored alarm data (primary, events and backups)",
	RunE:  runClear,
}

func init() {
	clearCmd.Flags().Bool("yes", false, "Confirm the destructive operation")
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	if err := RequireConfig(); err != nil {
		return err
	}

	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		return fmt.Errorf("this removes all stored alarm data; re-run with --yes to confirm")
	}

	lock := filelock.ForDir(cfg.DataDir)
	if err := lock.TryAcquire(); err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	if err := st.store.ClearAllData(context.Background()); err != nil {
		return err
	}

	PrintSuccess("All stored alarm data removed")
	return nil
}
