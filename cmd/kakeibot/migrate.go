package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mizutani/kakeibot/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bindMigrateFlags(cmd)
			store, err := storage.NewSQLiteStorage(viper.GetString("storage.path"))
			if err != nil {
				return fmt.Errorf("opening storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrating storage: %w", err)
			}

			fmt.Printf("database is at schema version %d\n", storage.ExpectedSchemaVersion)
			return nil
		},
	}

	cmd.Flags().String("db", "kakeibot.db", "sqlite database path")

	return cmd
}

func bindMigrateFlags(cmd *cobra.Command) {
	_ = viper.BindPFlag("storage.path", cmd.Flags().Lookup("db"))
}
