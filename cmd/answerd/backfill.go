package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/tutorialhub/answerd/config"
	"github.com/tutorialhub/answerd/internal/store"
	"github.com/tutorialhub/answerd/internal/worker"
	"github.com/tutorialhub/answerd/provider"
)

func backfillCMD() *cobra.Command {
	var cfgPath string
	var watch bool

	backfill := &cobra.Command{
		Use:   "backfill",
		Short: "Embed content chunks that are missing vectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.OpenAI.Validate(); err != nil {
				return err
			}
			if err := cfg.Storage.Postgres.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			defer st.Close()

			oai, err := provider.NewOpenAI(cfg.OpenAI, cfg.Retrieval.FastEmbeddings)
			if err != nil {
				return err
			}

			logger := log.New(log.Writer(), "[BACKFILL] ", log.LstdFlags)
			b := worker.NewBackfill(st, oai, cfg.Backfill.BatchSize, logger)

			if watch {
				if err := b.Start(cfg.Backfill.CronSpec); err != nil {
					return err
				}
				logger.Printf("watching on schedule %q", cfg.Backfill.CronSpec)
				select {}
			}

			done, err := b.RunOnce(ctx)
			if err != nil {
				return err
			}
			logger.Printf("embedded %d chunks", done)
			return nil
		},
	}
	backfill.Flags().BoolVar(&watch, "watch", false, "keep running on the configured cron schedule")
	backfill.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return backfill
}
