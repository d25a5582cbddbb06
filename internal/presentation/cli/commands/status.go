package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
	"github.com/jbctechsolutions/clinicsync/internal/presentation/cli/output"
)

// StatusInfo is the JSON shape of the status command.
type StatusInfo struct {
	Backend      string              `json:"backend"`
	Online       bool                `json:"online"`
	LastOnlineAt time.Time           `json:"last_online_at,omitzero"`
	Pending      offline.QueueCounts `json:"pending"`
	DeadLetters  offline.QueueCounts `json:"dead_letters"`
	Store        offline.StoreSize   `json:"store"`
	StoreDriver  string              `json:"store_driver"`
	StorePath    string              `json:"store_path,omitempty"`
}

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and queue status",
		Long: `Probe the backend once and report whether the client is online, how many
writes are waiting to be delivered, and how large the local store is.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(runContext())
		},
	}
}

func runStatus(ctx context.Context) error {
	container, err := requireContainer()
	if err != nil {
		return err
	}
	cfg := container.Config()
	store := container.Store()

	snap := container.Monitor().Sample(ctx)

	size, err := store.GetDatabaseSize(ctx)
	if err != nil {
		return fmt.Errorf("failed to read store size: %w", err)
	}
	dead, err := store.ListDeadLetters(ctx)
	if err != nil {
		return fmt.Errorf("failed to list dead letters: %w", err)
	}

	info := StatusInfo{
		Backend:      cfg.Backend.URL,
		Online:       snap.IsOnline,
		LastOnlineAt: snap.LastOnlineAt,
		Pending:      snap.Pending,
		DeadLetters:  offline.QueueCounts{Requests: len(dead.Requests), SyncItems: len(dead.SyncItems)},
		Store:        size,
		StoreDriver:  cfg.Store.Driver,
	}
	if cfg.Store.Driver != "memory" {
		info.StorePath = cfg.Store.Path
	}

	formatter := GetFormatter()
	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(info)
	}

	formatter.Header("clinicsync status")
	formatter.Item("Backend", info.Backend)
	formatter.Item("Connectivity", formatter.ConnectivityBadge(info.Online))
	formatter.Item("Last online", output.FormatSince(info.LastOnlineAt, time.Now()))

	formatter.SubHeader("Pending")
	formatter.Item("Requests", formatter.PendingText(info.Pending.Requests))
	formatter.Item("Sync items", formatter.PendingText(info.Pending.SyncItems))
	if info.DeadLetters.Total() > 0 {
		formatter.Warning("%d dead-lettered item(s), see 'clinicsync queue dead'", info.DeadLetters.Total())
	}

	formatter.SubHeader("Store")
	formatter.Item("Driver", info.StoreDriver)
	if info.StorePath != "" {
		formatter.Item("Path", info.StorePath)
	}
	formatter.Item("Records", fmt.Sprintf("%d", size.Records))
	formatter.Item("Responses", fmt.Sprintf("%d", size.Responses))
	formatter.Item("Payload", output.FormatBytes(size.PayloadBytes))

	return nil
}
