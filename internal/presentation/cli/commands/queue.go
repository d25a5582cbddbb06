package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/clinicsync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/clinicsync/internal/domain/errors"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
	"github.com/jbctechsolutions/clinicsync/internal/presentation/cli/output"
)

// Queue kinds shown in listings.
const (
	kindRequest = "request"
	kindSync    = "sync"
)

// QueueEntry is one row of a queue listing.
type QueueEntry struct {
	Kind          string              `json:"kind"`
	ID            string              `json:"id"`
	TenantID      string              `json:"tenant_id,omitempty"`
	Target        string              `json:"target"`
	Status        offline.QueueStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	NextAttemptAt time.Time           `json:"next_attempt_at,omitzero"`
	LastError     string              `json:"last_error,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// NewQueueCmd creates the queue inspection command.
func NewQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect queued writes",
		Long: `Inspect the two queues of writes made while offline.

Requests are raw HTTP mutations captured by the proxy. Sync items are
record-level changes made through the data endpoints. Items that exhaust
their retries are dead-lettered and kept for inspection.`,
	}

	cmd.AddCommand(NewQueueListCmd())
	cmd.AddCommand(NewQueueCancelCmd())
	cmd.AddCommand(NewQueueDeadCmd())

	return cmd
}

// NewQueueListCmd creates the queue list command.
func NewQueueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List pending queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := requireContainer()
			if err != nil {
				return err
			}
			entries, err := pendingEntries(runContext(), container.Store())
			if err != nil {
				return err
			}
			return printQueue(entries, "No pending writes")
		},
	}
}

// NewQueueDeadCmd creates the queue dead command.
func NewQueueDeadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dead",
		Short: "List dead-lettered queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := requireContainer()
			if err != nil {
				return err
			}
			dead, err := container.Store().ListDeadLetters(runContext())
			if err != nil {
				return fmt.Errorf("failed to list dead letters: %w", err)
			}
			return printQueue(queueEntries(dead.Requests, dead.SyncItems), "No dead-lettered writes")
		},
	}
}

// NewQueueCancelCmd creates the queue cancel command.
func NewQueueCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Remove an item from the queues",
		Long:  `Remove a pending or dead-lettered item. The write is never delivered.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := requireContainer()
			if err != nil {
				return err
			}
			ctx := runContext()

			entry, err := cancelQueued(ctx, container.Store(), args[0])
			if err != nil {
				return err
			}

			formatter := GetFormatter()
			if formatter.Format() == output.FormatJSON {
				return formatter.JSON(entry)
			}
			formatter.Success("Canceled %s %s (%s)", entry.Kind, entry.ID, entry.Target)
			return nil
		},
	}
}

// cancelQueued looks id up across both queues, pending and dead, and removes it.
func cancelQueued(ctx context.Context, store ports.LocalStore, id string) (*QueueEntry, error) {
	entries, err := pendingEntries(ctx, store)
	if err != nil {
		return nil, err
	}
	dead, err := store.ListDeadLetters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	entries = append(entries, queueEntries(dead.Requests, dead.SyncItems)...)

	for i := range entries {
		entry := &entries[i]
		if entry.ID != id {
			continue
		}
		switch entry.Kind {
		case kindRequest:
			err = store.RemoveQueuedRequest(ctx, id)
		default:
			err = store.RemoveFromSyncQueue(ctx, id)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to cancel %s: %w", id, err)
		}
		return entry, nil
	}
	return nil, domainErrors.NewError(domainErrors.CodeNotFound, "no queued item "+id, domainErrors.ErrRecordNotFound)
}

func pendingEntries(ctx context.Context, store ports.LocalStore) ([]QueueEntry, error) {
	requests, err := store.GetQueuedRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued requests: %w", err)
	}
	items, err := store.GetSyncQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync queue: %w", err)
	}
	return queueEntries(requests, items), nil
}

func queueEntries(requests []*offline.QueuedRequest, items []*offline.SyncQueueItem) []QueueEntry {
	entries := make([]QueueEntry, 0, len(requests)+len(items))
	for _, q := range requests {
		entries = append(entries, QueueEntry{
			Kind:          kindRequest,
			ID:            q.ID,
			TenantID:      q.TenantID,
			Target:        q.Method + " " + q.URL,
			Status:        q.Status,
			Attempts:      q.Retry.Attempts,
			NextAttemptAt: q.Retry.NextAttemptAt,
			LastError:     q.Retry.LastError,
			CreatedAt:     q.CreatedAt,
		})
	}
	for _, s := range items {
		entries = append(entries, QueueEntry{
			Kind:          kindSync,
			ID:            s.ID,
			TenantID:      s.TenantID,
			Target:        string(s.Action) + " " + s.Entity,
			Status:        s.Status,
			Attempts:      s.Retry.Attempts,
			NextAttemptAt: s.Retry.NextAttemptAt,
			LastError:     s.Retry.LastError,
			CreatedAt:     s.CreatedAt,
		})
	}
	return entries
}

func printQueue(entries []QueueEntry, empty string) error {
	formatter := GetFormatter()
	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(entries)
	}
	if len(entries) == 0 {
		formatter.Info("%s", empty)
		return nil
	}

	now := time.Now()
	table := output.TableData{
		Columns: []output.TableColumn{
			{Header: "KIND"},
			{Header: "ID"},
			{Header: "TENANT"},
			{Header: "TARGET"},
			{Header: "STATUS"},
			{Header: "TRIES", Align: output.AlignRight},
			{Header: "CREATED"},
		},
	}
	for _, e := range entries {
		table.Rows = append(table.Rows, []string{
			e.Kind,
			e.ID,
			e.TenantID,
			truncate(e.Target, 48),
			formatter.QueueStatusText(e.Status),
			strconv.Itoa(e.Attempts),
			output.FormatSince(e.CreatedAt, now),
		})
	}
	return formatter.Table(table)
}

// truncate shortens s to maxLen runes, marking the cut with "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
