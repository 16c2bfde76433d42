package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/deadletter"
)

var deadLetterLimit int

var deadLettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "Inspect messages the indexer gave up on",
}

var deadLettersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded dead letters, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDB(cmd, cfg, deadletter.Schema)
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := deadletter.NewPostgresStore(db.DB).List(cmd.Context(), deadLetterLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FAILED AT\tTOPIC\tPARTITION\tOFFSET\tATTEMPTS\tREASON")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
				e.FailedAt.UTC().Format(time.RFC3339), e.Topic, e.Partition, e.Offset, e.Attempts, e.Reason)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(deadLettersCmd)
	deadLettersCmd.AddCommand(deadLettersListCmd)

	deadLettersListCmd.Flags().IntVar(&deadLetterLimit, "limit", 50, "maximum entries to show")
}
