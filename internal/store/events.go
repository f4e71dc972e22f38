// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/cloudbus/cloudbus/model"
)

const (
	eventTable        = "Event"
	subscriptionTable = "EventSubscription"
	deliveryTable     = "EventDelivery"
)

var (
	eventColumns = []string{
		"ID",
		"OrganizationID",
		"Type",
		"Source",
		"Subject",
		"Timestamp",
		"DataContentType",
		"DataSchema",
		"Data",
		"Cron",
		"Status",
		"Attempts",
		"LastError",
		"NextRetryAt",
		"CreateAt",
		"UpdateAt",
	}

	eventSelect = sq.Select(eventColumns...).From(eventTable)
)

// dbInterface captures the common surface of *sqlx.DB and *sqlx.Tx, so
// store internals can run the same code inside and outside transactions.
type dbInterface interface {
	sqlx.Queryer
	Exec(query string, args ...interface{}) (sql.Result, error)
	DriverName() string
}

// CreateEvent persists a new event and fans out pending deliveries to all
// matching subscriptions in a single transaction.
//
// For recurring events (Cron set) publication is idempotent: if an event
// with the same (organization, type, source, cron) tuple is still active,
// the existing event is returned and nothing is written. The second
// return value reports whether a new event row was created.
func (sqlStore *SQLStore) CreateEvent(event *model.Event, deliverAt int64) (*model.Event, bool, error) {
	tx, err := sqlStore.beginTransaction(sqlStore.db)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.RollbackUnlessCommitted()

	if event.IsRecurring() {
		existing, err := sqlStore.getActiveRecurringEvent(tx, event)
		if err != nil {
			return nil, false, errors.Wrap(err, "failed to check for active recurring event")
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	now := model.GetMillis()
	event.ID = model.NewID()
	event.Status = model.EventPending
	event.Attempts = 0
	if event.Timestamp == 0 {
		event.Timestamp = now
	}
	if event.DataContentType == "" {
		event.DataContentType = model.DefaultDataContentType
	}
	event.CreateAt = now
	event.UpdateAt = now

	_, err = sqlStore.execBuilder(tx, sq.
		Insert(eventTable).
		SetMap(map[string]interface{}{
			"ID":              event.ID,
			"OrganizationID":  event.OrganizationID,
			"Type":            event.Type,
			"Source":          event.Source,
			"Subject":         event.Subject,
			"Timestamp":       event.Timestamp,
			"DataContentType": event.DataContentType,
			"DataSchema":      event.DataSchema,
			"Data":            event.Data,
			"Cron":            event.Cron,
			"Status":          event.Status,
			"Attempts":        event.Attempts,
			"LastError":       event.LastError,
			"NextRetryAt":     event.NextRetryAt,
			"CreateAt":        event.CreateAt,
			"UpdateAt":        event.UpdateAt,
		}),
	)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to create event")
	}

	subscriptions, err := sqlStore.getSubscriptionsForEvent(tx, event)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to get subscriptions for event")
	}

	err = sqlStore.createEventDeliveries(tx, event.ID, subscriptions, deliverAt)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to create event deliveries")
	}

	err = tx.Commit()
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to commit transaction")
	}
	return event, true, nil
}

// getActiveRecurringEvent fetches a live event with the same recurrence
// tuple, if any. A recurrence stays live through failed ticks; only a
// publisher cancellation retires it.
func (sqlStore *SQLStore) getActiveRecurringEvent(db dbInterface, event *model.Event) (*model.Event, error) {
	var existing model.Event
	err := sqlStore.getBuilder(db, &existing, eventSelect.
		Where("OrganizationID = ?", event.OrganizationID).
		Where("Type = ?", event.Type).
		Where("Source = ?", event.Source).
		Where("Cron = ?", event.Cron).
		Where(sq.Or{
			sq.NotEq{"Status": model.EventFailed},
			sq.NotEq{"LastError": model.CancelledByPublisher},
		}).
		Limit(1),
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &existing, nil
}

// GetEvent fetches an event by ID, scoped by organization.
func (sqlStore *SQLStore) GetEvent(id, organizationID string) (*model.Event, error) {
	var event model.Event
	err := sqlStore.getBuilder(sqlStore.db, &event, eventSelect.
		Where("ID = ?", id).
		Where("OrganizationID = ?", organizationID),
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get event")
	}

	return &event, nil
}

// CancelEvent marks an event failed on behalf of its publisher, flipping
// all non-terminal deliveries to failed with the same error. Returns false
// when the event is missing, terminal, or owned by another connection.
func (sqlStore *SQLStore) CancelEvent(eventID, organizationID, connectionID string) (bool, error) {
	tx, err := sqlStore.beginTransaction(sqlStore.db)
	if err != nil {
		return false, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.RollbackUnlessCommitted()

	now := model.GetMillis()

	result, err := sqlStore.execBuilder(tx, sq.
		Update(eventTable).
		SetMap(map[string]interface{}{
			"Status":    model.EventFailed,
			"LastError": model.CancelledByPublisher,
			"UpdateAt":  now,
		}).
		Where("ID = ?", eventID).
		Where("OrganizationID = ?", organizationID).
		Where("Source = ?", connectionID).
		Where(sq.Eq{"Status": []model.EventStatus{model.EventPending, model.EventProcessing}}),
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to cancel event")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to count rows affected")
	}
	if rows == 0 {
		return false, nil
	}

	_, err = sqlStore.execBuilder(tx, sq.
		Update(deliveryTable).
		SetMap(map[string]interface{}{
			"Status":      model.DeliveryFailed,
			"LastError":   model.CancelledByPublisher,
			"NextRetryAt": 0,
		}).
		Where("EventID = ?", eventID).
		Where(sq.Eq{"Status": []model.DeliveryStatus{model.DeliveryPending, model.DeliveryProcessing}}),
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to cancel event deliveries")
	}

	err = tx.Commit()
	if err != nil {
		return false, errors.Wrap(err, "failed to commit transaction")
	}
	return true, nil
}

// RollupEventStatus recomputes the event status from its deliveries: all
// delivered means delivered, any failed with none outstanding means
// failed, anything else leaves the status untouched. Terminal statuses
// are never downgraded.
func (sqlStore *SQLStore) RollupEventStatus(eventID string) error {
	tx, err := sqlStore.beginTransaction(sqlStore.db)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.RollbackUnlessCommitted()

	err = sqlStore.rollupEventStatus(tx, eventID)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

func (sqlStore *SQLStore) rollupEventStatus(db dbInterface, eventID string) error {
	var event model.Event
	err := sqlStore.getBuilder(db, &event, eventSelect.Where("ID = ?", eventID))
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to get event for rollup")
	}
	if event.IsTerminal() {
		return nil
	}

	var counts []struct {
		Status   model.DeliveryStatus
		Total    int64
		Attempts int64
	}
	err = sqlStore.selectBuilder(db, &counts, sq.
		Select("Status", "COUNT(*) AS Total", "MAX(Attempts) AS Attempts").
		From(deliveryTable).
		Where("EventID = ?", eventID).
		GroupBy("Status"),
	)
	if err != nil {
		return errors.Wrap(err, "failed to count deliveries for rollup")
	}
	if len(counts) == 0 {
		// No deliveries yet; leave a subscriber-less event alone.
		return nil
	}

	var outstanding, failed int64
	var attempts int64
	for _, c := range counts {
		if c.Attempts > attempts {
			attempts = c.Attempts
		}
		switch c.Status {
		case model.DeliveryPending, model.DeliveryProcessing:
			outstanding += c.Total
		case model.DeliveryFailed:
			failed += c.Total
		}
	}

	newStatus := event.Status
	lastError := event.LastError
	switch {
	case outstanding == 0 && failed == 0:
		newStatus = model.EventDelivered
	case outstanding == 0 && failed > 0:
		newStatus = model.EventFailed
		var deliveryError string
		err = sqlStore.getBuilder(db, &deliveryError, sq.
			Select("LastError").
			From(deliveryTable).
			Where("EventID = ?", eventID).
			Where("Status = ?", model.DeliveryFailed).
			OrderBy("CreateAt DESC").
			Limit(1),
		)
		if err != nil && err != sql.ErrNoRows {
			return errors.Wrap(err, "failed to get failed delivery error")
		}
		if deliveryError != "" {
			lastError = deliveryError
		}
	}

	if newStatus == event.Status && int(attempts) == event.Attempts {
		return nil
	}

	_, err = sqlStore.execBuilder(db, sq.
		Update(eventTable).
		SetMap(map[string]interface{}{
			"Status":    newStatus,
			"Attempts":  attempts,
			"LastError": lastError,
			"UpdateAt":  model.GetMillis(),
		}).
		Where("ID = ?", eventID),
	)
	if err != nil {
		return errors.Wrap(err, "failed to update event status")
	}
	return nil
}

// ScheduleNextCronDeliveries writes the next tick's deliveries for a
// recurring event, re-matching subscriptions because they may have changed
// since the previous tick. A cancelled event schedules nothing, and a tick
// already on the books is left alone. Returns the number of deliveries
// created.
func (sqlStore *SQLStore) ScheduleNextCronDeliveries(eventID string, deliverAt int64) (int, error) {
	tx, err := sqlStore.beginTransaction(sqlStore.db)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.RollbackUnlessCommitted()

	var event model.Event
	err = sqlStore.getBuilder(tx, &event, eventSelect.Where("ID = ?", eventID))
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to get event")
	}
	if !event.IsRecurring() || event.IsCancelled() {
		return 0, nil
	}

	// Retries concluding within the same cron window race the schedule.
	var scheduled int64
	err = sqlStore.getBuilder(tx, &scheduled, sq.
		Select("COUNT(*)").
		From(deliveryTable).
		Where("EventID = ?", event.ID).
		Where("Status = ?", model.DeliveryPending).
		Where("NextRetryAt = ?", deliverAt),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to check for scheduled deliveries")
	}
	if scheduled > 0 {
		return 0, nil
	}

	subscriptions, err := sqlStore.getSubscriptionsForEvent(tx, &event)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get subscriptions for event")
	}
	if len(subscriptions) == 0 {
		return 0, nil
	}

	err = sqlStore.createEventDeliveries(tx, event.ID, subscriptions, deliverAt)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create next cron deliveries")
	}

	// New deliveries restart the rollup cycle.
	_, err = sqlStore.execBuilder(tx, sq.
		Update(eventTable).
		SetMap(map[string]interface{}{
			"Status":    model.EventPending,
			"LastError": "",
			"UpdateAt":  model.GetMillis(),
		}).
		Where("ID = ?", event.ID),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to reset recurring event status")
	}

	err = tx.Commit()
	if err != nil {
		return 0, errors.Wrap(err, "failed to commit transaction")
	}
	return len(subscriptions), nil
}
