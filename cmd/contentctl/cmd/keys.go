package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/auth/apikey"
)

var (
	keyName      string
	keyRateLimit int
	keyTTL       time.Duration
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key and print it once",
	RunE: func(cmd *cobra.Command, args []string) error {
		if keyName == "" {
			return fmt.Errorf("--name is required")
		}
		store, closeDB, err := openKeyStore(cmd)
		if err != nil {
			return err
		}
		defer closeDB()

		var expiresAt *time.Time
		if keyTTL > 0 {
			t := time.Now().Add(keyTTL)
			expiresAt = &t
		}
		raw, err := store.CreateKey(cmd.Context(), keyName, keyRateLimit, expiresAt)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), raw)
		return nil
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke KEY",
	Short: "Deactivate an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeDB, err := openKeyStore(cmd)
		if err != nil {
			return err
		}
		defer closeDB()
		if err := store.RevokeKey(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "revoked")
		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeDB, err := openKeyStore(cmd)
		if err != nil {
			return err
		}
		defer closeDB()
		keys, err := store.ListKeys(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tRATE LIMIT\tCREATED\tEXPIRES")
		for _, k := range keys {
			expires := "never"
			if k.ExpiresAt != nil {
				expires = k.ExpiresAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", k.ID, k.Name, k.RateLimit, k.CreatedAt.UTC().Format(time.RFC3339), expires)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCreateCmd, keysRevokeCmd, keysListCmd)

	keysCreateCmd.Flags().StringVar(&keyName, "name", "", "name recorded as the caller identity")
	keysCreateCmd.Flags().IntVar(&keyRateLimit, "rate-limit", 0, "requests per window; 0 uses the server default")
	keysCreateCmd.Flags().DurationVar(&keyTTL, "ttl", 0, "key lifetime; 0 never expires")
}

func openKeyStore(cmd *cobra.Command) (*apikey.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := openDB(cmd, cfg, apikey.Schema)
	if err != nil {
		return nil, nil, err
	}
	return apikey.NewStore(db.DB), func() { db.Close() }, nil
}
