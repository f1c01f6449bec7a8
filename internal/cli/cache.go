package cli

import (
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache counters and durable record count",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			out := map[string]interface{}{
				"memory":   a.service.CacheStats(),
				"backend":  a.cfg.Cache.Backend,
				"hit_rate": a.service.CacheStats().HitRate(),
			}
			if durable := a.service.Cache().Durable(); durable != nil {
				ids, err := durable.IDs(cmd.Context())
				if err != nil {
					return err
				}
				out["durable_records"] = len(ids)
				ratio, err := durable.FreeRatio(cmd.Context())
				if err != nil {
					return err
				}
				out["durable_free_ratio"] = ratio
			}
			return printJSON(cmd, out)
		})
	},
}

var cacheMaintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run one maintenance pass",
	Long: `Run one maintenance pass: prune stale low-relevance entries, purge
durable records that are not resident in memory and compact the durable tier
when its free ratio exceeds the configured threshold. A one-shot process starts
with an empty memory tier, so every durable record is purged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			report, err := a.service.Maintain(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		})
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheMaintainCmd)
	rootCmd.AddCommand(cacheCmd)
}
