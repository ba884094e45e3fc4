package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/steward/internal/config"
	"github.com/example/steward/internal/history"
	"github.com/example/steward/internal/logging"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [\"query\"]",
		Short: "List past tasks, or those similar to a query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg, err := config.Load(wd)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := history.Open(cfg.HistoryPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				similar, err := store.FindSimilar(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				if len(similar) == 0 {
					fmt.Fprintln(out, "no similar tasks")
					return nil
				}
				for _, task := range similar {
					fmt.Fprintf(out, "[%s] %s\n", task.Outcome, task.Goal)
					if task.Detail != "" {
						fmt.Fprintf(out, "      %s\n", task.Detail)
					}
				}
				return nil
			}

			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "no tasks recorded")
				return nil
			}
			for _, record := range records {
				fmt.Fprintf(out, "%s  [%s] %s\n",
					record.CreatedAt.Format("2006-01-02 15:04"), record.Outcome, record.Goal)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "max results")
	return cmd
}
