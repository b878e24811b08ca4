package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one integrity check and report findings",
	Long: `Run a single integrity check over the stored alarm data: full payload
validation, per-alarm structural and consistency checks, and the
change-detection pass. Exits non-zero when issues are found.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().Bool("deep", false, "Also verify every backup slot and the tamper log chain")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := RequireConfig(); err != nil {
		return err
	}

	st, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	mon := st.newMonitor(cfg)
	defer mon.Destroy()

	result, err := mon.PerformIntegrityCheck(context.Background(), cfg.OwnerID)
	if err != nil {
		return err
	}

	PrintHeader("Integrity Check")
	PrintInfo("Check ID:  %s", result.CheckID)
	PrintInfo("Duration:  %s", result.Duration)
	PrintInfo("State:     %s", result.FinalState)

	if deep, _ := cmd.Flags().GetBool("deep"); deep {
		report, err := st.store.VerifyBackups(context.Background())
		if err != nil {
			return err
		}
		PrintInfo("Backups:   %d checked, %d valid, %d invalid", report.Checked, report.Valid, report.Invalid)
		for _, f := range report.Failures {
			PrintWarning("  backup: %s", f)
		}
		if chainErr := st.chain.VerifyChain(); chainErr != nil {
			PrintWarning("Tamper log chain: %v", chainErr)
			result.IsValid = false
		}
		if report.Invalid > 0 {
			result.IsValid = false
		}
	}

	if result.IsValid {
		PrintSuccess("No integrity issues found")
		return nil
	}

	PrintWarning("%d issue(s) found:", len(result.Issues))
	for _, issue := range result.Issues {
		fmt.Printf("  [%s] %s: %s\n", issue.Severity, issue.Type, issue.Description)
	}
	os.Exit(1)
	return nil
}
