package main

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeDBFlagReachesStoragePath(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	serve := serveCmd()
	// The migrate command declares its own --db flag; creating it must
	// not shadow the serve binding.
	migrateCmd()

	require.NoError(t, serve.Flags().Set("db", "from-serve-flag.db"))
	require.NoError(t, serve.Flags().Set("addr", ":9999"))
	bindServeFlags(serve)

	assert.Equal(t, "from-serve-flag.db", viper.GetString("storage.path"))
	assert.Equal(t, ":9999", viper.GetString("server.addr"))
}

func TestMigrateDBFlagReachesStoragePath(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	serveCmd()
	migrate := migrateCmd()

	require.NoError(t, migrate.Flags().Set("db", "from-migrate-flag.db"))
	bindMigrateFlags(migrate)

	assert.Equal(t, "from-migrate-flag.db", viper.GetString("storage.path"))
}
