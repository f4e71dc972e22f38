// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"database/sql"

	"github.com/blang/semver"
	"github.com/pkg/errors"
)

const systemDatabaseVersionKey = "DatabaseVersion"

// getSystemValue queries the System table for the given key.
func (sqlStore *SQLStore) getSystemValue(q queryer, key string) (string, error) {
	var value string
	err := sqlStore.get(q, &value, "SELECT Value FROM System WHERE Key = ?", key)
	if err == sql.ErrNoRows {
		return "", nil
	} else if err != nil {
		return "", errors.Wrapf(err, "failed to query system key %s", key)
	}

	return value, nil
}

// setSystemValue updates the System table for the given key.
func (sqlStore *SQLStore) setSystemValue(e execer, key, value string) error {
	result, err := sqlStore.exec(e, "UPDATE System SET Value = ? WHERE Key = ?", value, key)
	if err != nil {
		return errors.Wrapf(err, "failed to update system key %s", key)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		return nil
	}

	_, err = sqlStore.exec(e, "INSERT INTO System (Key, Value) VALUES (?, ?)", key, value)
	if err != nil {
		return errors.Wrapf(err, "failed to insert system key %s", key)
	}

	return nil
}

// GetCurrentVersion queries the System table for the current database version.
func (sqlStore *SQLStore) GetCurrentVersion() (semver.Version, error) {
	return sqlStore.getCurrentVersion(sqlStore.db)
}

// getCurrentVersion queries the System table for the current database version against the given
// queryer.
func (sqlStore *SQLStore) getCurrentVersion(q queryer) (semver.Version, error) {
	currentVersionStr, err := sqlStore.getSystemValue(q, systemDatabaseVersionKey)
	if err != nil {
		return semver.Version{}, err
	}
	if currentVersionStr == "" {
		return semver.Version{}, nil
	}

	currentVersion, err := semver.Parse(currentVersionStr)
	if err != nil {
		return semver.Version{}, errors.Wrapf(err, "failed to parse current version %s", currentVersionStr)
	}

	return currentVersion, nil
}

// setCurrentVersion updates the System table with the given database version.
func (sqlStore *SQLStore) setCurrentVersion(e execer, version string) error {
	return sqlStore.setSystemValue(e, systemDatabaseVersionKey, version)
}
