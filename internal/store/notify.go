// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"github.com/pkg/errors"
)

// NotifyChannel emits a server-side notification on the given channel.
// Only the postgres store supports this; the notify layer composes a
// polling fallback for the sqlite store.
func (sqlStore *SQLStore) NotifyChannel(channel, payload string) error {
	if sqlStore.db.DriverName() != driverPostgres {
		return errors.Errorf("driver %s does not support server-side notify", sqlStore.db.DriverName())
	}

	_, err := sqlStore.db.Exec("SELECT pg_notify($1, $2)", channel, payload)
	if err != nil {
		return errors.Wrapf(err, "failed to notify channel %s", channel)
	}
	return nil
}
