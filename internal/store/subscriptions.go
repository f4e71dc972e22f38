// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/cloudbus/cloudbus/model"
)

var (
	subscriptionColumns = []string{
		"ID",
		"OrganizationID",
		"ConnectionID",
		"EventType",
		"Publisher",
		"Filter",
		"Enabled",
		"CreateAt",
		"UpdateAt",
	}

	subscriptionSelect = sq.Select(subscriptionColumns...).From(subscriptionTable)
)

// CreateSubscription registers a subscription, idempotently: when a row
// with the identical (organization, connection, eventType, publisher,
// filter) tuple already exists it is returned unchanged.
func (sqlStore *SQLStore) CreateSubscription(subscription *model.Subscription) (*model.Subscription, error) {
	tx, err := sqlStore.beginTransaction(sqlStore.db)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.RollbackUnlessCommitted()

	var existing model.Subscription
	err = sqlStore.getBuilder(tx, &existing, subscriptionSelect.
		Where("OrganizationID = ?", subscription.OrganizationID).
		Where("ConnectionID = ?", subscription.ConnectionID).
		Where("EventType = ?", subscription.EventType).
		Where("Publisher = ?", subscription.Publisher).
		Where("Filter = ?", subscription.Filter),
	)
	if err == nil {
		return &existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to check for existing subscription")
	}

	now := model.GetMillis()
	subscription.ID = model.NewID()
	subscription.Enabled = true
	subscription.CreateAt = now
	subscription.UpdateAt = now

	err = sqlStore.insertSubscription(tx, subscription)
	if err != nil {
		return nil, err
	}

	err = tx.Commit()
	if err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}
	return subscription, nil
}

func (sqlStore *SQLStore) insertSubscription(db dbInterface, subscription *model.Subscription) error {
	_, err := sqlStore.execBuilder(db, sq.
		Insert(subscriptionTable).
		SetMap(map[string]interface{}{
			"ID":             subscription.ID,
			"OrganizationID": subscription.OrganizationID,
			"ConnectionID":   subscription.ConnectionID,
			"EventType":      subscription.EventType,
			"Publisher":      subscription.Publisher,
			"Filter":         subscription.Filter,
			"Enabled":        subscription.Enabled,
			"CreateAt":       subscription.CreateAt,
			"UpdateAt":       subscription.UpdateAt,
		}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create subscription")
	}
	return nil
}

// GetSubscription fetches a subscription by ID, scoped by organization.
func (sqlStore *SQLStore) GetSubscription(id, organizationID string) (*model.Subscription, error) {
	var subscription model.Subscription
	err := sqlStore.getBuilder(sqlStore.db, &subscription, subscriptionSelect.
		Where("ID = ?", id).
		Where("OrganizationID = ?", organizationID),
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get subscription")
	}

	return &subscription, nil
}

// GetSubscriptions fetches subscriptions specified by the filter.
func (sqlStore *SQLStore) GetSubscriptions(filter *model.SubscriptionsFilter) ([]*model.Subscription, error) {
	return sqlStore.getSubscriptions(sqlStore.db, filter)
}

func (sqlStore *SQLStore) getSubscriptions(db dbInterface, filter *model.SubscriptionsFilter) ([]*model.Subscription, error) {
	query := subscriptionSelect.
		Where("OrganizationID = ?", filter.OrganizationID).
		OrderBy("CreateAt ASC")
	if filter.ConnectionID != "" {
		query = query.Where("ConnectionID = ?", filter.ConnectionID)
	}

	subscriptions := []*model.Subscription{}
	err := sqlStore.selectBuilder(db, &subscriptions, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get subscriptions")
	}

	return subscriptions, nil
}

// getSubscriptionsForEvent returns the enabled subscriptions in the
// event's organization interested in it: matching event type, and either
// no publisher filter or one matching the event source.
func (sqlStore *SQLStore) getSubscriptionsForEvent(db dbInterface, event *model.Event) ([]*model.Subscription, error) {
	subscriptions := []*model.Subscription{}
	err := sqlStore.selectBuilder(db, &subscriptions, subscriptionSelect.
		Where("OrganizationID = ?", event.OrganizationID).
		Where("EventType = ?", event.Type).
		Where("Enabled = ?", true).
		Where(sq.Or{
			sq.Eq{"Publisher": ""},
			sq.Eq{"Publisher": event.Source},
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get subscriptions for event")
	}

	return subscriptions, nil
}

// DeleteSubscription removes a subscription, cascading to its deliveries.
// Returns whether a row was deleted.
func (sqlStore *SQLStore) DeleteSubscription(id, organizationID string) (bool, error) {
	result, err := sqlStore.execBuilder(sqlStore.db, sq.
		Delete(subscriptionTable).
		Where("ID = ?", id).
		Where("OrganizationID = ?", organizationID),
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to delete subscription")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to count rows affected")
	}
	return rows > 0, nil
}

// SyncSubscriptions reconciles one connection's subscriptions against the
// desired set, keyed by (eventType, publisher): missing tuples are
// created, tuples with a changed filter are updated, tuples absent from
// the desired set are deleted.
func (sqlStore *SQLStore) SyncSubscriptions(organizationID, connectionID string, desired []model.SubscriptionDefinition) (*model.SyncResult, error) {
	tx, err := sqlStore.beginTransaction(sqlStore.db)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.RollbackUnlessCommitted()

	current, err := sqlStore.getSubscriptions(tx, &model.SubscriptionsFilter{
		OrganizationID: organizationID,
		ConnectionID:   connectionID,
	})
	if err != nil {
		return nil, err
	}

	type tupleKey struct {
		eventType string
		publisher string
	}

	currentByKey := make(map[tupleKey]*model.Subscription, len(current))
	for _, subscription := range current {
		key := tupleKey{subscription.EventType, subscription.Publisher}
		if _, ok := currentByKey[key]; ok {
			// Duplicate tuples (differing filters) collapse to one; the
			// extra rows are treated as undesired below.
			continue
		}
		currentByKey[key] = subscription
	}

	result := &model.SyncResult{}
	now := model.GetMillis()

	desiredKeys := make(map[tupleKey]bool, len(desired))
	for _, definition := range desired {
		key := tupleKey{definition.EventType, definition.Publisher}
		desiredKeys[key] = true

		existing, ok := currentByKey[key]
		if !ok {
			subscription := &model.Subscription{
				ID:             model.NewID(),
				OrganizationID: organizationID,
				ConnectionID:   connectionID,
				EventType:      definition.EventType,
				Publisher:      definition.Publisher,
				Filter:         definition.Filter,
				Enabled:        true,
				CreateAt:       now,
				UpdateAt:       now,
			}
			err = sqlStore.insertSubscription(tx, subscription)
			if err != nil {
				return nil, err
			}
			result.Created++
			continue
		}

		if existing.Filter == definition.Filter {
			result.Unchanged++
			continue
		}

		_, err = sqlStore.execBuilder(tx, sq.
			Update(subscriptionTable).
			SetMap(map[string]interface{}{
				"Filter":   definition.Filter,
				"UpdateAt": now,
			}).
			Where("ID = ?", existing.ID),
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to update subscription filter")
		}
		result.Updated++
	}

	for _, subscription := range current {
		key := tupleKey{subscription.EventType, subscription.Publisher}
		if desiredKeys[key] && currentByKey[key] == subscription {
			continue
		}

		_, err = sqlStore.execBuilder(tx, sq.
			Delete(subscriptionTable).
			Where("ID = ?", subscription.ID),
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to delete undesired subscription")
		}
		result.Deleted++
	}

	result.Subscriptions, err = sqlStore.getSubscriptions(tx, &model.SubscriptionsFilter{
		OrganizationID: organizationID,
		ConnectionID:   connectionID,
	})
	if err != nil {
		return nil, err
	}

	err = tx.Commit()
	if err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}
	return result, nil
}

func prefixAll(prefix string, strs []string) []string {
	out := make([]string, len(strs))
	for i := range strs {
		out[i] = fmt.Sprintf("%s%s", prefix, strs[i])
	}
	return out
}
