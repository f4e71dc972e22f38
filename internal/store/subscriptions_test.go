// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudbus/cloudbus/internal/testlib"
	"github.com/cloudbus/cloudbus/model"
)

func TestCreateSubscriptionIdempotent(t *testing.T) {
	logger := testlib.MakeLogger(t)
	sqlStore := MakeTestSQLStore(t, logger)
	defer CloseConnection(t, sqlStore)

	first, err := sqlStore.CreateSubscription(&model.Subscription{
		OrganizationID: "org1",
		ConnectionID:   "conn1",
		EventType:      "user.created",
		Publisher:      "publisher1",
		Filter:         `{"plan":"pro"}`,
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.True(t, first.Enabled)

	second, err := sqlStore.CreateSubscription(&model.Subscription{
		OrganizationID: "org1",
		ConnectionID:   "conn1",
		EventType:      "user.created",
		Publisher:      "publisher1",
		Filter:         `{"plan":"pro"}`,
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	// A different filter is a different subscription.
	third, err := sqlStore.CreateSubscription(&model.Subscription{
		OrganizationID: "org1",
		ConnectionID:   "conn1",
		EventType:      "user.created",
		Publisher:      "publisher1",
		Filter:         `{"plan":"free"}`,
	})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, third.ID)
}

func TestGetSubscriptions(t *testing.T) {
	logger := testlib.MakeLogger(t)
	sqlStore := MakeTestSQLStore(t, logger)
	defer CloseConnection(t, sqlStore)

	sub1, err := sqlStore.CreateSubscription(&model.Subscription{
		OrganizationID: "org1",
		ConnectionID:   "conn1",
		EventType:      "user.created",
	})
	require.NoError(t, err)

	sub2, err := sqlStore.CreateSubscription(&model.Subscription{
		OrganizationID: "org1",
		ConnectionID:   "conn2",
		EventType:      "user.deleted",
	})
	require.NoError(t, err)

	_, err = sqlStore.CreateSubscription(&model.Subscription{
		OrganizationID: "org2",
		ConnectionID:   "conn1",
		EventType:      "user.created",
	})
	require.NoError(t, err)

	t.Run("by organization", func(t *testing.T) {
		subscriptions, err := sqlStore.GetSubscriptions(&model.SubscriptionsFilter{OrganizationID: "org1"})
		require.NoError(t, err)
		require.Len(t, subscriptions, 2)
	})

	t.Run("by connection", func(t *testing.T) {
		subscriptions, err := sqlStore.GetSubscriptions(&model.SubscriptionsFilter{
			OrganizationID: "org1",
			ConnectionID:   "conn2",
		})
		require.NoError(t, err)
		require.Len(t, subscriptions, 1)
		assert.Equal(t, sub2.ID, subscriptions[0].ID)
	})

	t.Run("by id scoped to organization", func(t *testing.T) {
		subscription, err := sqlStore.GetSubscription(sub1.ID, "org1")
		require.NoError(t, err)
		require.NotNil(t, subscription)
		assert.Equal(t, sub1.ID, subscription.ID)

		subscription, err = sqlStore.GetSubscription(sub1.ID, "org2")
		require.NoError(t, err)
		assert.Nil(t, subscription)
	})
}

func TestDeleteSubscription(t *testing.T) {
	logger := testlib.MakeLogger(t)
	sqlStore := MakeTestSQLStore(t, logger)
	defer CloseConnection(t, sqlStore)

	subscription, err := sqlStore.CreateSubscription(&model.Subscription{
		OrganizationID: "org1",
		ConnectionID:   "conn1",
		EventType:      "user.created",
	})
	require.NoError(t, err)

	deleted, err := sqlStore.DeleteSubscription(subscription.ID, "org2")
	require.NoError(t, err)
	require.False(t, deleted)

	deleted, err = sqlStore.DeleteSubscription(subscription.ID, "org1")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = sqlStore.DeleteSubscription(subscription.ID, "org1")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestSyncSubscriptions(t *testing.T) {
	logger := testlib.MakeLogger(t)
	sqlStore := MakeTestSQLStore(t, logger)
	defer CloseConnection(t, sqlStore)

	// Existing state: one tuple to keep, one to update, one to delete.
	_, err := sqlStore.CreateSubscription(&model.Subscription{
		OrganizationID: "org1",
		ConnectionID:   "conn1",
		EventType:      "user.created",
	})
	require.NoError(t, err)

	_, err = sqlStore.CreateSubscription(&model.Subscription{
		OrganizationID: "org1",
		ConnectionID:   "conn1",
		EventType:      "user.updated",
		Filter:         `{"plan":"free"}`,
	})
	require.NoError(t, err)

	_, err = sqlStore.CreateSubscription(&model.Subscription{
		OrganizationID: "org1",
		ConnectionID:   "conn1",
		EventType:      "user.deleted",
	})
	require.NoError(t, err)

	// Another connection's subscriptions are untouched by the sync.
	otherConnection, err := sqlStore.CreateSubscription(&model.Subscription{
		OrganizationID: "org1",
		ConnectionID:   "conn2",
		EventType:      "user.created",
	})
	require.NoError(t, err)

	result, err := sqlStore.SyncSubscriptions("org1", "conn1", []model.SubscriptionDefinition{
		{EventType: "user.created"},
		{EventType: "user.updated", Filter: `{"plan":"pro"}`},
		{EventType: "order.placed", Publisher: "shop"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, result.Unchanged)
	require.Len(t, result.Subscriptions, 3)

	byType := make(map[string]*model.Subscription)
	for _, subscription := range result.Subscriptions {
		byType[subscription.EventType] = subscription
	}
	require.Contains(t, byType, "user.created")
	require.Contains(t, byType, "user.updated")
	require.Contains(t, byType, "order.placed")
	assert.Equal(t, `{"plan":"pro"}`, byType["user.updated"].Filter)
	assert.Equal(t, "shop", byType["order.placed"].Publisher)

	untouched, err := sqlStore.GetSubscription(otherConnection.ID, "org1")
	require.NoError(t, err)
	require.NotNil(t, untouched)
}

func TestSyncSubscriptionsEmptyDesiredSet(t *testing.T) {
	logger := testlib.MakeLogger(t)
	sqlStore := MakeTestSQLStore(t, logger)
	defer CloseConnection(t, sqlStore)

	_, err := sqlStore.CreateSubscription(&model.Subscription{
		OrganizationID: "org1",
		ConnectionID:   "conn1",
		EventType:      "user.created",
	})
	require.NoError(t, err)

	result, err := sqlStore.SyncSubscriptions("org1", "conn1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Empty(t, result.Subscriptions)
}
