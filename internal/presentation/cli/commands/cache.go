package commands

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/clinicsync/internal/application/ports"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
	"github.com/jbctechsolutions/clinicsync/internal/presentation/cli/output"
)

// NewCacheCmd creates the cache management command.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the offline cache",
		Long: `Manage the local cache of backend responses and tenant records.

Responses are grouped in generations. Only the generations named in the
gateway configuration are served; older ones are purged on activation.`,
	}

	cmd.AddCommand(NewCacheStatsCmd())
	cmd.AddCommand(NewCacheEvictCmd())
	cmd.AddCommand(NewCacheClearCmd())

	return cmd
}

// CacheStatsInfo is the JSON shape of cache stats.
type CacheStatsInfo struct {
	Responses   *ports.CacheStats `json:"responses"`
	Generations []string          `json:"generations"`
	Store       offline.StoreSize `json:"store"`
}

// NewCacheStatsCmd creates the cache stats command.
func NewCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Long:  `Display the cached response generations and the size of the local store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := requireContainer()
			if err != nil {
				return err
			}
			ctx := runContext()

			stats, err := container.ResponseCache().Stats(ctx)
			if err != nil {
				return fmt.Errorf("failed to get cache stats: %w", err)
			}
			gens, err := container.ResponseCache().Generations(ctx)
			if err != nil {
				return fmt.Errorf("failed to list generations: %w", err)
			}
			size, err := container.Store().GetDatabaseSize(ctx)
			if err != nil {
				return fmt.Errorf("failed to read store size: %w", err)
			}

			formatter := GetFormatter()
			if formatter.Format() == output.FormatJSON {
				return formatter.JSON(CacheStatsInfo{Responses: stats, Generations: gens, Store: size})
			}

			cfg := container.Config()
			current := []string{cfg.Gateway.StaticGeneration, cfg.Gateway.APIGeneration}

			formatter.Header("Cache Statistics")
			formatter.SubHeader("Generations")
			if len(gens) == 0 {
				formatter.Println("  %s", formatter.Dim("none"))
			}
			for _, g := range gens {
				if slices.Contains(current, g) {
					formatter.BulletItem(g)
				} else {
					formatter.BulletItem(g + " " + formatter.Dim("(stale)"))
				}
			}

			formatter.SubHeader("Store")
			formatter.Item("Records", fmt.Sprintf("%d", size.Records))
			formatter.Item("Responses", fmt.Sprintf("%d", size.Responses))
			formatter.Item("Queued", fmt.Sprintf("%d", size.Requests+size.SyncItems))
			formatter.Item("Payload", output.FormatBytes(size.PayloadBytes))

			formatter.SubHeader("Memory tier")
			formatter.Item("Entries", fmt.Sprintf("%d", stats.TotalEntries))
			formatter.Item("Size", output.FormatBytes(stats.TotalSize))
			formatter.Item("Evictions", fmt.Sprintf("%d", stats.EvictionCount))

			return nil
		},
	}
}

// NewCacheEvictCmd creates the cache evict command.
func NewCacheEvictCmd() *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Remove old records and stale generations",
		Long: `Delete tenant records not refreshed within --max-age and purge response
generations that are no longer current.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := requireContainer()
			if err != nil {
				return err
			}
			ctx := runContext()

			if !cmd.Flags().Changed("max-age") {
				maxAge = container.Config().Store.MaxAge
			}
			if maxAge <= 0 {
				return fmt.Errorf("--max-age must be positive")
			}

			records, err := container.Store().ClearOldData(ctx, maxAge)
			if err != nil {
				return fmt.Errorf("failed to evict records: %w", err)
			}
			responses, err := container.Gateway().Activate(ctx)
			if err != nil {
				return fmt.Errorf("failed to purge generations: %w", err)
			}

			formatter := GetFormatter()
			if formatter.Format() == output.FormatJSON {
				return formatter.JSON(map[string]int64{"records": records, "responses": responses})
			}
			formatter.Success("Evicted %d record(s) older than %s and %d stale response(s)",
				records, output.FormatDuration(maxAge), responses)
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "evict records older than this (default: store.max_age from config)")

	return cmd
}

// NewCacheClearCmd creates the cache clear command.
func NewCacheClearCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the response cache",
		Long: `Remove every cached response, including the pre-cached static manifest.
Queued writes and tenant records are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := requireContainer()
			if err != nil {
				return err
			}

			formatter := GetFormatter()

			if !confirm {
				formatter.Warning("This will clear ALL cached responses.")
				formatter.Info("Use --confirm to proceed.")
				return nil
			}

			removed, err := container.ResponseCache().Purge(runContext(), nil)
			if err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}

			if formatter.Format() == output.FormatJSON {
				return formatter.JSON(map[string]int64{"removed": removed})
			}
			formatter.Success("Removed %d cached %s", removed, plural(removed, "response"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "Confirm clearing all cached responses")

	return cmd
}

func plural(n int64, word string) string {
	if n == 1 {
		return word
	}
	return strings.TrimSuffix(word, "s") + "s"
}
