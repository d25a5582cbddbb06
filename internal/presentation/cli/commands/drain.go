package commands

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/clinicsync/internal/application/syncqueue"
	"github.com/jbctechsolutions/clinicsync/internal/presentation/cli/output"
)

// NewDrainCmd creates the drain command.
func NewDrainCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Deliver queued writes now",
		Long: `Replay queued requests and reconcile sync queue items against the backend.

Without --force only items whose retry time has come are attempted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(runContext(), force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "ignore the retry schedule and attempt every pending item")

	return cmd
}

func runDrain(ctx context.Context, force bool) error {
	container, err := requireContainer()
	if err != nil {
		return err
	}

	container.Monitor().Sample(ctx)

	report, err := container.SyncManager().Drain(ctx, syncqueue.DrainOptions{Force: force})
	if err != nil {
		return err
	}

	formatter := GetFormatter()
	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(report)
	}

	switch {
	case report.Offline:
		formatter.Warning("Backend unreachable, nothing attempted")
		return nil
	case report.Skipped && report.ForcePending:
		formatter.Warning("Another drain is running, a forced drain will follow it")
		return nil
	case report.Skipped:
		formatter.Warning("Another drain is already running")
		return nil
	case report.Attempted == 0:
		formatter.Info("Nothing to deliver")
		return nil
	}

	formatter.Header("Drain")
	formatter.Item("Attempted", strconv.Itoa(report.Attempted))
	formatter.Item("Delivered", formatter.Colorize(strconv.Itoa(report.Delivered), output.ColorGreen))
	formatter.Item("Failed", strconv.Itoa(report.Failed))
	if report.DeadLettered > 0 {
		formatter.Item("Dead-lettered", formatter.Colorize(strconv.Itoa(report.DeadLettered), output.ColorRed))
	}
	if report.Deferred > 0 {
		formatter.Item("Deferred", strconv.Itoa(report.Deferred))
	}
	formatter.Item("Duration", output.FormatDuration(report.Duration))

	return nil
}
