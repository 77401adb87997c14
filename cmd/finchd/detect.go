package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/finchops/finch/internal/activity"
	"github.com/finchops/finch/internal/bus"
	"github.com/finchops/finch/internal/config"
	"github.com/finchops/finch/internal/detect"
	"github.com/finchops/finch/internal/notify"
	"github.com/finchops/finch/internal/workflow"
)

var detectCmd = &cobra.Command{
	Use:   "detect <overdue|contracts|stock|cleanup>",
	Short: "Run a single detector pass and exit",
	Long: `Runs one detector against the configured store, publishing any
synthesized events through the full subscriber chain, then exits. The
cluster lock still applies, so a pass already running elsewhere is skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		st, locker, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		eventBus := bus.New(logger, []bus.Subscriber{
			activity.New(st, logger),
			notify.New(st, logger),
			workflow.New(st, logger, workflow.Actions(st, logger)),
		})
		defer eventBus.Close()

		now := time.Now
		var det detect.Detector
		switch args[0] {
		case "overdue":
			det = detect.NewOverdueInvoices(st, eventBus, now)
		case "contracts":
			det = detect.NewExpiringContracts(st, eventBus, now)
		case "stock":
			det = detect.NewLowStock(st, eventBus)
		case "cleanup":
			det = detect.NewCleanup(st, logger, cfg.NotificationRetention, now)
		default:
			return fmt.Errorf("unknown detector %q (must be overdue, contracts, stock, or cleanup)", args[0])
		}

		scheduler := detect.NewScheduler(locker, nil, logger)
		scheduler.RunOnce(context.Background(), detect.Job{
			Detector: det,
			MaxHold:  cfg.LockMaxHold,
			MinHold:  cfg.LockMinHold,
		})
		return nil
	},
}
