// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

const (
	driverPostgres = "postgres"
	driverSqlite   = "sqlite3"
)
