// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/cloudbus/cloudbus/model"
)

var deliveryColumns = []string{
	"ID",
	"EventID",
	"SubscriptionID",
	"Status",
	"Attempts",
	"LastError",
	"DeliveredAt",
	"NextRetryAt",
	"CreateAt",
}

// deliveryInsertBatchSize bounds the number of value tuples per insert;
// sqlite limits prepared statement tokens to 999.
const deliveryInsertBatchSize = 50

// createEventDeliveries bulk-inserts pending deliveries for the event.
// A deliverAt of 0 makes the deliveries eligible immediately.
func (sqlStore *SQLStore) createEventDeliveries(db dbInterface, eventID string, subscriptions []*model.Subscription, deliverAt int64) error {
	if len(subscriptions) == 0 {
		return nil
	}

	now := model.GetMillis()

	for start := 0; start < len(subscriptions); start += deliveryInsertBatchSize {
		end := start + deliveryInsertBatchSize
		if end > len(subscriptions) {
			end = len(subscriptions)
		}

		builder := sq.Insert(deliveryTable).Columns(deliveryColumns...)
		for _, subscription := range subscriptions[start:end] {
			builder = builder.Values(model.NewID(), eventID, subscription.ID, model.DeliveryPending, 0, "", 0, deliverAt, now)
		}

		_, err := sqlStore.execBuilder(db, builder)
		if err != nil {
			return errors.Wrap(err, "failed to insert event deliveries")
		}
	}

	return nil
}

// ClaimPendingDeliveries atomically moves up to limit eligible deliveries
// to processing and returns them joined with their event and subscription,
// oldest first.
//
// On postgres the candidate rows are locked with FOR UPDATE SKIP LOCKED so
// concurrent workers claim disjoint sets. On sqlite writes are serialized
// by the single-writer connection, and a conditional per-row update guards
// against claims racing within the process.
func (sqlStore *SQLStore) ClaimPendingDeliveries(limit int) ([]*model.Claim, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := sqlStore.beginTransaction(sqlStore.db)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.RollbackUnlessCommitted()

	now := model.GetMillis()

	query := sq.Select(prefixAll("d.", deliveryColumns)...).
		From(deliveryTable + " AS d").
		Join(subscriptionTable + " AS s ON d.SubscriptionID = s.ID").
		Where("d.Status = ?", model.DeliveryPending).
		Where("s.Enabled = ?", true).
		Where("d.NextRetryAt <= ?", now).
		OrderBy("d.CreateAt ASC").
		Limit(uint64(limit))

	if sqlStore.db.DriverName() == driverPostgres {
		query = query.Suffix("FOR UPDATE OF d SKIP LOCKED")
	}

	var deliveries []*model.Delivery
	err = sqlStore.selectBuilder(tx, &deliveries, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select claimable deliveries")
	}
	if len(deliveries) == 0 {
		return nil, nil
	}

	claimed := make([]*model.Delivery, 0, len(deliveries))
	for _, delivery := range deliveries {
		result, err := sqlStore.execBuilder(tx, sq.
			Update(deliveryTable).
			Set("Status", model.DeliveryProcessing).
			Where("ID = ?", delivery.ID).
			Where("Status = ?", model.DeliveryPending),
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to claim delivery")
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return nil, errors.Wrap(err, "failed to count rows affected")
		}
		if rows == 0 {
			// Claimed elsewhere between select and update.
			continue
		}

		delivery.Status = model.DeliveryProcessing
		claimed = append(claimed, delivery)
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	claims, err := sqlStore.attachEventsAndSubscriptions(tx, claimed)
	if err != nil {
		return nil, err
	}

	err = tx.Commit()
	if err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}
	return claims, nil
}

// attachEventsAndSubscriptions joins claimed deliveries with their event
// and subscription rows, preserving delivery order.
func (sqlStore *SQLStore) attachEventsAndSubscriptions(db dbInterface, deliveries []*model.Delivery) ([]*model.Claim, error) {
	eventIDs := make([]string, 0, len(deliveries))
	subscriptionIDs := make([]string, 0, len(deliveries))
	for _, delivery := range deliveries {
		eventIDs = append(eventIDs, delivery.EventID)
		subscriptionIDs = append(subscriptionIDs, delivery.SubscriptionID)
	}

	var events []*model.Event
	err := sqlStore.selectBuilder(db, &events, eventSelect.Where(sq.Eq{"ID": eventIDs}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to select events for claims")
	}
	eventsByID := make(map[string]*model.Event, len(events))
	for _, event := range events {
		eventsByID[event.ID] = event
	}

	var subscriptions []*model.Subscription
	err = sqlStore.selectBuilder(db, &subscriptions, subscriptionSelect.Where(sq.Eq{"ID": subscriptionIDs}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to select subscriptions for claims")
	}
	subscriptionsByID := make(map[string]*model.Subscription, len(subscriptions))
	for _, subscription := range subscriptions {
		subscriptionsByID[subscription.ID] = subscription
	}

	claims := make([]*model.Claim, 0, len(deliveries))
	for _, delivery := range deliveries {
		event, ok := eventsByID[delivery.EventID]
		if !ok {
			return nil, errors.Errorf("claimed delivery %s references missing event %s", delivery.ID, delivery.EventID)
		}
		subscription, ok := subscriptionsByID[delivery.SubscriptionID]
		if !ok {
			return nil, errors.Errorf("claimed delivery %s references missing subscription %s", delivery.ID, delivery.SubscriptionID)
		}

		claims = append(claims, &model.Claim{
			Delivery:     *delivery,
			Event:        *event,
			Subscription: *subscription,
		})
	}

	return claims, nil
}

// concludableStatuses are the delivery statuses a worker verdict may
// still change. Deliveries concluded concurrently, by an ack or a
// cancellation, stay terminal.
var concludableStatuses = []model.DeliveryStatus{model.DeliveryPending, model.DeliveryProcessing}

// MarkDeliveriesDelivered records successful deliveries, counting the
// concluding attempt.
func (sqlStore *SQLStore) MarkDeliveriesDelivered(deliveryIDs []string) error {
	if len(deliveryIDs) == 0 {
		return nil
	}

	now := model.GetMillis()
	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Update(deliveryTable).
		SetMap(map[string]interface{}{
			"Status":      model.DeliveryDelivered,
			"DeliveredAt": now,
			"NextRetryAt": 0,
			"LastError":   "",
		}).
		Set("Attempts", sq.Expr("Attempts + 1")).
		Where(sq.Eq{"ID": deliveryIDs}).
		Where(sq.Eq{"Status": concludableStatuses}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to mark deliveries delivered")
	}
	return nil
}

// MarkDeliveriesFailed counts a failed attempt against each delivery.
// Deliveries that reach the policy's attempt ceiling become terminally
// failed; the rest return to pending with exponential backoff.
func (sqlStore *SQLStore) MarkDeliveriesFailed(deliveryIDs []string, deliveryError string, policy model.RetryPolicy) error {
	if len(deliveryIDs) == 0 {
		return nil
	}

	tx, err := sqlStore.beginTransaction(sqlStore.db)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.RollbackUnlessCommitted()

	var deliveries []*model.Delivery
	err = sqlStore.selectBuilder(tx, &deliveries, sq.
		Select(deliveryColumns...).
		From(deliveryTable).
		Where(sq.Eq{"ID": deliveryIDs}).
		Where(sq.Eq{"Status": concludableStatuses}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to select deliveries to fail")
	}

	now := model.GetMillis()
	for _, delivery := range deliveries {
		delivery.Attempts++
		delivery.LastError = deliveryError

		if delivery.Attempts >= policy.MaxAttempts {
			delivery.Status = model.DeliveryFailed
			delivery.NextRetryAt = 0
		} else {
			delivery.Status = model.DeliveryPending
			delivery.NextRetryAt = now + policy.NextDelayMs(delivery.Attempts)
		}

		_, err = sqlStore.execBuilder(tx, sq.
			Update(deliveryTable).
			SetMap(map[string]interface{}{
				"Status":      delivery.Status,
				"Attempts":    delivery.Attempts,
				"LastError":   delivery.LastError,
				"NextRetryAt": delivery.NextRetryAt,
			}).
			Where("ID = ?", delivery.ID),
		)
		if err != nil {
			return errors.Wrap(err, "failed to update failed delivery")
		}
	}

	err = tx.Commit()
	if err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// ScheduleDeliveryRetries returns deliveries to pending after the given
// delay without counting an attempt. Used when a subscriber defers a batch
// with retryAfter.
func (sqlStore *SQLStore) ScheduleDeliveryRetries(deliveryIDs []string, delayMs int64) error {
	if len(deliveryIDs) == 0 {
		return nil
	}

	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Update(deliveryTable).
		SetMap(map[string]interface{}{
			"Status":      model.DeliveryPending,
			"NextRetryAt": model.GetMillis() + delayMs,
		}).
		Where(sq.Eq{"ID": deliveryIDs}).
		Where(sq.Eq{"Status": concludableStatuses}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to schedule delivery retries")
	}
	return nil
}

// ResetStuckDeliveries returns deliveries abandoned mid-flight (status
// processing) to pending, keeping attempts and retry schedule. Called on
// worker startup after a crash or restart.
func (sqlStore *SQLStore) ResetStuckDeliveries() (int64, error) {
	result, err := sqlStore.execBuilder(sqlStore.db, sq.
		Update(deliveryTable).
		Set("Status", model.DeliveryPending).
		Where("Status = ?", model.DeliveryProcessing),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to reset stuck deliveries")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count rows affected")
	}
	return rows, nil
}

// AckEventDeliveries marks delivered any outstanding deliveries of the
// event belonging to the given subscriber connection, then rolls up the
// event status. Returns whether any delivery was acknowledged.
func (sqlStore *SQLStore) AckEventDeliveries(eventID, organizationID, connectionID string) (bool, error) {
	tx, err := sqlStore.beginTransaction(sqlStore.db)
	if err != nil {
		return false, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.RollbackUnlessCommitted()

	var event model.Event
	err = sqlStore.getBuilder(tx, &event, eventSelect.
		Where("ID = ?", eventID).
		Where("OrganizationID = ?", organizationID),
	)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to get event for ack")
	}

	var subscriptionIDs []string
	err = sqlStore.selectBuilder(tx, &subscriptionIDs, sq.
		Select("ID").
		From(subscriptionTable).
		Where("OrganizationID = ?", organizationID).
		Where("ConnectionID = ?", connectionID),
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to select subscriptions for ack")
	}
	if len(subscriptionIDs) == 0 {
		return false, nil
	}

	result, err := sqlStore.execBuilder(tx, sq.
		Update(deliveryTable).
		SetMap(map[string]interface{}{
			"Status":      model.DeliveryDelivered,
			"DeliveredAt": model.GetMillis(),
			"NextRetryAt": 0,
			"LastError":   "",
		}).
		Where("EventID = ?", eventID).
		Where(sq.Eq{"SubscriptionID": subscriptionIDs}).
		Where(sq.Eq{"Status": []model.DeliveryStatus{model.DeliveryPending, model.DeliveryProcessing}}),
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to ack deliveries")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to count rows affected")
	}
	if rows == 0 {
		return false, nil
	}

	err = sqlStore.rollupEventStatus(tx, eventID)
	if err != nil {
		return false, err
	}

	err = tx.Commit()
	if err != nil {
		return false, errors.Wrap(err, "failed to commit transaction")
	}
	return true, nil
}

// GetDeliveriesForEvent fetches all delivery rows for an event, oldest
// first.
func (sqlStore *SQLStore) GetDeliveriesForEvent(eventID string) ([]*model.Delivery, error) {
	var deliveries []*model.Delivery
	err := sqlStore.selectBuilder(sqlStore.db, &deliveries, sq.
		Select(deliveryColumns...).
		From(deliveryTable).
		Where("EventID = ?", eventID).
		OrderBy("CreateAt ASC"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get deliveries for event")
	}

	return deliveries, nil
}
