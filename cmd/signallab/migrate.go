package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply Postgres and ClickHouse schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.UseMemory {
			return fmt.Errorf("nothing to migrate with in-memory stores")
		}
		a, err := newApp(cmd.Context(), cfg, log, true)
		if err != nil {
			return err
		}
		a.close()
		log.Info().Bool("clickhouse", cfg.ClickHouse.DSN != "").Msg("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
