// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudbus/cloudbus/internal/testlib"
	"github.com/cloudbus/cloudbus/model"
)

func TestNew(t *testing.T) {
	logger := testlib.MakeLogger(t)

	t.Run("sqlite dsn with file prefix and options", func(t *testing.T) {
		dsn := fmt.Sprintf("sqlite3://file:%s.db?mode=memory&cache=shared", model.NewID())

		sqlStore, err := New(dsn, logger)
		require.NoError(t, err)
		defer CloseConnection(t, sqlStore)

		assert.Equal(t, "sqlite3", sqlStore.DriverName())
		assert.Equal(t, dsn, sqlStore.DSN())

		// The shared-cache options made it through to the driver when a
		// second statement sees the first one's table.
		_, err = sqlStore.db.Exec("CREATE TABLE OptionsCheck (ID TEXT)")
		require.NoError(t, err)
		var count int
		err = sqlStore.get(sqlStore.db, &count, "SELECT COUNT(*) FROM OptionsCheck")
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("sqlite scheme alias", func(t *testing.T) {
		dsn := fmt.Sprintf("sqlite://file:%s.db?mode=memory&cache=shared", model.NewID())

		sqlStore, err := New(dsn, logger)
		require.NoError(t, err)
		defer CloseConnection(t, sqlStore)

		assert.Equal(t, "sqlite3", sqlStore.DriverName())
	})

	t.Run("missing scheme", func(t *testing.T) {
		_, err := New("cloudbus.db", logger)
		require.Error(t, err)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := New("mysql://localhost:3306/cloudbus", logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported dsn scheme")
	})
}
