// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEnvTestCommand(t *testing.T) *cobra.Command {
	t.Helper()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("database", "sqlite3://cloudbus.db", "")
	cmd.Flags().String("webhook-url", "", "")
	cmd.Flags().Int("batch-size", 100, "")
	cmd.Flags().Bool("debug", false, "")
	return cmd
}

func TestBindEnvConfig(t *testing.T) {
	t.Run("environment fills unset flags", func(t *testing.T) {
		cmd := makeEnvTestCommand(t)
		t.Setenv("CLOUDBUS_DATABASE", "postgres://localhost:5432/cloudbus")
		t.Setenv("CLOUDBUS_WEBHOOK_URL", "https://hooks.example.com")
		t.Setenv("CLOUDBUS_BATCH_SIZE", "25")
		t.Setenv("CLOUDBUS_DEBUG", "true")

		bindEnvConfig(cmd)

		database, err := cmd.Flags().GetString("database")
		require.NoError(t, err)
		assert.Equal(t, "postgres://localhost:5432/cloudbus", database)

		webhookURL, err := cmd.Flags().GetString("webhook-url")
		require.NoError(t, err)
		assert.Equal(t, "https://hooks.example.com", webhookURL)

		batchSize, err := cmd.Flags().GetInt("batch-size")
		require.NoError(t, err)
		assert.Equal(t, 25, batchSize)

		debug, err := cmd.Flags().GetBool("debug")
		require.NoError(t, err)
		assert.True(t, debug)
	})

	t.Run("command line flags win", func(t *testing.T) {
		cmd := makeEnvTestCommand(t)
		t.Setenv("CLOUDBUS_DATABASE", "postgres://localhost:5432/cloudbus")

		require.NoError(t, cmd.ParseFlags([]string{"--database", "sqlite3://explicit.db"}))
		bindEnvConfig(cmd)

		database, err := cmd.Flags().GetString("database")
		require.NoError(t, err)
		assert.Equal(t, "sqlite3://explicit.db", database)
	})

	t.Run("defaults survive an empty environment", func(t *testing.T) {
		cmd := makeEnvTestCommand(t)
		t.Setenv("CLOUDBUS_DATABASE", "")

		bindEnvConfig(cmd)

		database, err := cmd.Flags().GetString("database")
		require.NoError(t, err)
		assert.Equal(t, "sqlite3://cloudbus.db", database)
	})
}
