package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the tamper log",
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().IntP("limit", "n", 20, "Number of entries to show")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	if err := RequireConfig(); err != nil {
		return err
	}

	st, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	limit, _ := cmd.Flags().GetInt("limit")
	entries := st.chain.Entries(limit)
	if len(entries) == 0 {
		PrintInfo("Tamper log is empty")
		return nil
	}

	PrintHeader(fmt.Sprintf("Tamper Log (last %d of %d)", len(entries), st.chain.Len()))
	for _, e := range entries {
		fmt.Printf("  #%-4d %s  %-10s %s\n",
			e.Sequence,
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Kind,
			e.Description)
	}

	if err := st.chain.VerifyChain(); err != nil {
		PrintWarning("Chain verification FAILED: %v", err)
	}
	return nil
}
