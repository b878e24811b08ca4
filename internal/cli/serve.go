package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alarmvault/alarmvault/internal/api"
	"github.com/alarmvault/alarmvault/internal/filelock"
	"github.com/alarmvault/alarmvault/internal/logging"
	"github.com/alarmvault/alarmvault/internal/middleware"
	"github.com/alarmvault/alarmvault/internal/monitor"
	"github.com/alarmvault/alarmvault/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the storage daemon (API, monitor, deep verification)",
	Long: `Start the alarmvault daemon: the HTTP API, the continuous integrity
monitor, and the scheduled deep verification sweep over the backup
chain and the tamper log.`,
	Example: `  # Start with configured defaults
  alarmvault serve

  # Custom listen address and check interval
  alarmvault serve --addr 127.0.0.1:9000 --interval 10s`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("addr", "a", "", "Listen address (overrides config)")
	f.Duration("interval", 0, "Integrity check interval (overrides config)")
	f.String("deep-verify", "", "Deep verification schedule (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := RequireConfig(); err != nil {
		return err
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

	var monOpts []monitor.Option
	if d, _ := cmd.Flags().GetDuration("interval"); d > 0 {
		monOpts = append(monOpts, monitor.WithInterval(d))
	}
	mon := st.newMonitor(cfg, monOpts...)
	defer mon.Destroy()

	if err := mon.Start(); err != nil {
		return err
	}
	defer mon.Stop()

	sweeper, err := setupSweeper(cmd, st, mon)
	if err != nil {
		return err
	}
	if sweeper != nil {
		sweeper.Start()
		defer sweeper.Stop()
	}

	addr := cfg.API.Listen
	if override, _ := cmd.Flags().GetString("addr"); override != "" {
		addr = override
	}

	server := api.NewServer(addr, st.store, mon, logging.L().Named("api"), api.Options{
		Chain:     st.chain,
		Sweeper:   sweeper,
		RateLimit: middleware.RateLimitFromAPI(cfg.API),
	})

	return runServer(server)
}

// setupSweeper builds the deep verification sweeper when a schedule
// is configured. No schedule means no sweeper; the monitor's per-cycle
// checks still run.
func setupSweeper(cmd *cobra.Command, st *stack, mon *monitor.Monitor) (*scheduler.Sweeper, error) {
	expr := cfg.Monitor.DeepVerifySchedule
	if override, _ := cmd.Flags().GetString("deep-verify"); override != "" {
		expr = override
	}
	if expr == "" {
		logging.Info("No deep verification schedule configured")
		return nil, nil
	}

	sched, err := scheduler.ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	sweeper := scheduler.NewSweeper(sched, st.store, st.chain, logging.L().Named("sweeper"))
	sweeper.SetReporter(mon)

	logging.Info("Deep verification enabled",
		logging.String("schedule", sched.String()),
		logging.String("next_run", sched.NextRun(time.Now()).Format("2006-01-02 15:04:05")))
	return sweeper, nil
}

func runServer(server *api.Server) error {
	logging.Info("Press Ctrl+C to stop")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	logging.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	logging.Info("Server stopped")
	return nil
}
