// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"github.com/blang/semver"
)

type migration struct {
	fromVersion   semver.Version
	toVersion     semver.Version
	migrationFunc func(execer) error
}

// migrations defines the set of migrations necessary to advance the database to the latest
// expected version.
//
// Note that the canonical schema is currently obtained by applying all migrations to an empty
// database.
var migrations = []migration{
	{semver.MustParse("0.0.0"), semver.MustParse("0.1.0"), func(e execer) error {
		_, err := e.Exec(`
			CREATE TABLE System (
				Key VARCHAR(64) PRIMARY KEY,
				Value VARCHAR(1024) NULL
			);
		`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`
			CREATE TABLE Event (
				ID CHAR(26) PRIMARY KEY,
				OrganizationID VARCHAR(64) NOT NULL,
				Type VARCHAR(256) NOT NULL,
				Source VARCHAR(256) NOT NULL,
				Subject VARCHAR(256) NOT NULL DEFAULT '',
				Timestamp BIGINT NOT NULL,
				DataContentType VARCHAR(128) NOT NULL DEFAULT 'application/json',
				DataSchema VARCHAR(512) NOT NULL DEFAULT '',
				Data BYTEA NULL,
				Cron VARCHAR(128) NOT NULL DEFAULT '',
				Status VARCHAR(16) NOT NULL,
				Attempts INTEGER NOT NULL DEFAULT 0,
				LastError TEXT NOT NULL DEFAULT '',
				NextRetryAt BIGINT NOT NULL DEFAULT 0,
				CreateAt BIGINT NOT NULL,
				UpdateAt BIGINT NOT NULL
			);
		`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`
			CREATE TABLE EventSubscription (
				ID CHAR(26) PRIMARY KEY,
				OrganizationID VARCHAR(64) NOT NULL,
				ConnectionID VARCHAR(256) NOT NULL,
				EventType VARCHAR(256) NOT NULL,
				Publisher VARCHAR(256) NOT NULL DEFAULT '',
				Filter TEXT NOT NULL DEFAULT '',
				Enabled BOOLEAN NOT NULL DEFAULT TRUE,
				CreateAt BIGINT NOT NULL,
				UpdateAt BIGINT NOT NULL
			);
		`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`
			CREATE TABLE EventDelivery (
				ID CHAR(26) PRIMARY KEY,
				EventID CHAR(26) NOT NULL REFERENCES Event (ID) ON DELETE CASCADE,
				SubscriptionID CHAR(26) NOT NULL REFERENCES EventSubscription (ID) ON DELETE CASCADE,
				Status VARCHAR(16) NOT NULL,
				Attempts INTEGER NOT NULL DEFAULT 0,
				LastError TEXT NOT NULL DEFAULT '',
				DeliveredAt BIGINT NOT NULL DEFAULT 0,
				NextRetryAt BIGINT NOT NULL DEFAULT 0,
				CreateAt BIGINT NOT NULL
			);
		`)
		if err != nil {
			return err
		}

		// Claim eligibility scan.
		_, err = e.Exec(`CREATE INDEX EventDelivery_Status_NextRetryAt ON EventDelivery (Status, NextRetryAt);`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`CREATE INDEX EventDelivery_SubscriptionID ON EventDelivery (SubscriptionID);`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`CREATE INDEX EventDelivery_EventID ON EventDelivery (EventID);`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`CREATE INDEX EventSubscription_OrganizationID_EventType ON EventSubscription (OrganizationID, EventType);`)
		if err != nil {
			return err
		}

		// Re-subscribing with an identical tuple must return the existing row.
		_, err = e.Exec(`CREATE UNIQUE INDEX EventSubscription_Tuple ON EventSubscription (OrganizationID, ConnectionID, EventType, Publisher, Filter);`)
		if err != nil {
			return err
		}

		// At most one live recurring event per (org, type, source, cron);
		// only a publisher cancellation retires a recurrence.
		_, err = e.Exec(`
			CREATE INDEX Event_Recurring_Active ON Event (OrganizationID, Type, Source, Cron)
			WHERE Cron <> '' AND (Status <> 'failed' OR LastError <> 'Cancelled by publisher');
		`)
		if err != nil {
			return err
		}

		return nil
	}},
}
