// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"testing"

	"github.com/blang/semver"
	"github.com/stretchr/testify/require"

	"github.com/cloudbus/cloudbus/internal/testlib"
)

func TestMigrate(t *testing.T) {
	logger := testlib.MakeLogger(t)
	sqlStore := makeUnmigratedTestSQLStore(t, logger)
	defer CloseConnection(t, sqlStore)

	err := sqlStore.Migrate()
	require.NoError(t, err)

	currentVersion, err := sqlStore.GetCurrentVersion()
	require.NoError(t, err)
	require.Equal(t, LatestVersion(), currentVersion)

	// Migrating an up-to-date database is a no-op.
	err = sqlStore.Migrate()
	require.NoError(t, err)

	currentVersion, err = sqlStore.GetCurrentVersion()
	require.NoError(t, err)
	require.Equal(t, LatestVersion(), currentVersion)
}

func TestCurrentVersion(t *testing.T) {
	logger := testlib.MakeLogger(t)
	sqlStore := MakeTestSQLStore(t, logger)
	defer CloseConnection(t, sqlStore)

	err := sqlStore.setCurrentVersion(sqlStore.db, "5.0.0")
	require.NoError(t, err)

	currentVersion, err := sqlStore.GetCurrentVersion()
	require.NoError(t, err)
	require.Equal(t, semver.MustParse("5.0.0"), currentVersion)

	currentVersion, err = sqlStore.getCurrentVersion(sqlStore.db)
	require.NoError(t, err)
	require.Equal(t, semver.MustParse("5.0.0"), currentVersion)
}
