package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/searcher/cache"
	pkgredis "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/redis"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the shared query cache",
}

var cacheFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Drop every cached query result from Redis",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()

		n, err := cache.New(client, cache.Config{TTL: cfg.Redis.CacheTTL}).Invalidate(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "flushed %d keys\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheFlushCmd)
}
