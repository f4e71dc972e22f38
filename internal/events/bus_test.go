// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudbus/cloudbus/internal/notify"
	"github.com/cloudbus/cloudbus/internal/store"
	"github.com/cloudbus/cloudbus/internal/testlib"
	"github.com/cloudbus/cloudbus/model"
)

func makeTestBus(t *testing.T, sqlStore *store.SQLStore, notifier Notifier) *Bus {
	t.Helper()
	logger := testlib.MakeLogger(t)

	return New(sqlStore, notifier, notify.NewPolling(50*time.Millisecond, logger), Config{}, logger)
}

func TestBusPublishValidation(t *testing.T) {
	sqlStore := store.MakeTestSQLStore(t, testlib.MakeLogger(t))
	defer store.CloseConnection(t, sqlStore)

	bus := makeTestBus(t, sqlStore, notifierFunc(func(ctx context.Context, connectionID string, events []*model.CloudEvent) (*model.BatchResult, error) {
		return model.SuccessBatchResult(), nil
	}))

	t.Run("missing type", func(t *testing.T) {
		_, err := bus.Publish("org1", &model.PublishEventRequest{ConnectionID: "conn1"})
		require.Error(t, err)
		require.True(t, model.IsInvalidInput(err))
	})

	t.Run("deliverAt and cron are exclusive", func(t *testing.T) {
		_, err := bus.Publish("org1", &model.PublishEventRequest{
			ConnectionID: "conn1",
			Type:         "user.created",
			DeliverAt:    model.GetMillis() + 1000,
			Cron:         "0 * * * *",
		})
		require.Error(t, err)
		require.True(t, model.IsInvalidInput(err))
	})

	t.Run("invalid cron", func(t *testing.T) {
		_, err := bus.Publish("org1", &model.PublishEventRequest{
			ConnectionID: "conn1",
			Type:         "user.created",
			Cron:         "not a cron",
		})
		require.Error(t, err)
		require.True(t, model.IsInvalidInput(err))
	})
}

func TestBusRecurringPublishIdempotent(t *testing.T) {
	sqlStore := store.MakeTestSQLStore(t, testlib.MakeLogger(t))
	defer store.CloseConnection(t, sqlStore)

	bus := makeTestBus(t, sqlStore, notifierFunc(func(ctx context.Context, connectionID string, events []*model.CloudEvent) (*model.BatchResult, error) {
		return model.SuccessBatchResult(), nil
	}))

	request := &model.PublishEventRequest{
		ConnectionID: "scheduler",
		Type:         "report.generate",
		Cron:         "0 * * * *",
	}

	first, err := bus.Publish("org1", request)
	require.NoError(t, err)

	second, err := bus.Publish("org1", request)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestBusStartStopIdempotent(t *testing.T) {
	sqlStore := store.MakeTestSQLStore(t, testlib.MakeLogger(t))
	defer store.CloseConnection(t, sqlStore)

	bus := makeTestBus(t, sqlStore, notifierFunc(func(ctx context.Context, connectionID string, events []*model.CloudEvent) (*model.BatchResult, error) {
		return model.SuccessBatchResult(), nil
	}))

	require.False(t, bus.IsRunning())

	require.NoError(t, bus.Start())
	require.NoError(t, bus.Start())
	require.True(t, bus.IsRunning())

	bus.Stop()
	bus.Stop()
	require.False(t, bus.IsRunning())

	// A stopped bus can be started again.
	require.NoError(t, bus.Start())
	require.True(t, bus.IsRunning())
	bus.Stop()
}

func TestBusEndToEndDelivery(t *testing.T) {
	sqlStore := store.MakeTestSQLStore(t, testlib.MakeLogger(t))
	defer store.CloseConnection(t, sqlStore)

	delivered := make(chan string, 4)
	bus := makeTestBus(t, sqlStore, notifierFunc(func(ctx context.Context, connectionID string, events []*model.CloudEvent) (*model.BatchResult, error) {
		for range events {
			delivered <- connectionID
		}
		return model.SuccessBatchResult(), nil
	}))

	_, err := bus.Subscribe("org1", &model.CreateSubscriptionRequest{
		ConnectionID: "conn1",
		EventType:    "user.created",
	})
	require.NoError(t, err)

	require.NoError(t, bus.Start())
	defer bus.Stop()

	event, err := bus.Publish("org1", &model.PublishEventRequest{
		ConnectionID: "publisher1",
		Type:         "user.created",
		Data:         []byte(`{"id":"u1"}`),
	})
	require.NoError(t, err)

	select {
	case connectionID := <-delivered:
		require.Equal(t, "conn1", connectionID)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}

	require.Eventually(t, func() bool {
		fetched, err := bus.GetEvent(event.ID, "org1")
		require.NoError(t, err)
		return fetched.Status == model.EventDelivered
	}, 5*time.Second, 50*time.Millisecond)
}

func TestBusScheduledDelivery(t *testing.T) {
	sqlStore := store.MakeTestSQLStore(t, testlib.MakeLogger(t))
	defer store.CloseConnection(t, sqlStore)

	delivered := make(chan struct{}, 1)
	bus := makeTestBus(t, sqlStore, notifierFunc(func(ctx context.Context, connectionID string, events []*model.CloudEvent) (*model.BatchResult, error) {
		delivered <- struct{}{}
		return model.SuccessBatchResult(), nil
	}))

	_, err := bus.Subscribe("org1", &model.CreateSubscriptionRequest{
		ConnectionID: "conn1",
		EventType:    "job.run",
	})
	require.NoError(t, err)

	require.NoError(t, bus.Start())
	defer bus.Stop()

	// Scheduled a few poll intervals out; polling picks it up when due.
	deliverAt := model.GetMillis() + 200
	_, err = bus.Publish("org1", &model.PublishEventRequest{
		ConnectionID: "publisher1",
		Type:         "job.run",
		DeliverAt:    deliverAt,
	})
	require.NoError(t, err)

	select {
	case <-delivered:
		assert.GreaterOrEqual(t, model.GetMillis(), deliverAt)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled event was not delivered")
	}
}

func TestBusCancelAndAck(t *testing.T) {
	sqlStore := store.MakeTestSQLStore(t, testlib.MakeLogger(t))
	defer store.CloseConnection(t, sqlStore)

	bus := makeTestBus(t, sqlStore, notifierFunc(func(ctx context.Context, connectionID string, events []*model.CloudEvent) (*model.BatchResult, error) {
		return model.SuccessBatchResult(), nil
	}))

	_, err := bus.Subscribe("org1", &model.CreateSubscriptionRequest{
		ConnectionID: "conn1",
		EventType:    "job.run",
	})
	require.NoError(t, err)

	// Cancel a scheduled event before the worker ever sees it.
	event, err := bus.Publish("org1", &model.PublishEventRequest{
		ConnectionID: "publisher1",
		Type:         "job.run",
		DeliverAt:    model.GetMillis() + 3600000,
	})
	require.NoError(t, err)

	cancelled, err := bus.CancelEvent(event.ID, "org1", "publisher1")
	require.NoError(t, err)
	require.True(t, cancelled)

	fetched, err := bus.GetEvent(event.ID, "org1")
	require.NoError(t, err)
	require.Equal(t, model.EventFailed, fetched.Status)
	require.Equal(t, model.CancelledByPublisher, fetched.LastError)

	// Ack another scheduled event out of band.
	event, err = bus.Publish("org1", &model.PublishEventRequest{
		ConnectionID: "publisher1",
		Type:         "job.run",
		DeliverAt:    model.GetMillis() + 3600000,
	})
	require.NoError(t, err)

	acked, err := bus.AckEvent(event.ID, "org1", "conn1")
	require.NoError(t, err)
	require.True(t, acked)

	fetched, err = bus.GetEvent(event.ID, "org1")
	require.NoError(t, err)
	require.Equal(t, model.EventDelivered, fetched.Status)
}

func TestBusSubscriptionLifecycle(t *testing.T) {
	sqlStore := store.MakeTestSQLStore(t, testlib.MakeLogger(t))
	defer store.CloseConnection(t, sqlStore)

	bus := makeTestBus(t, sqlStore, notifierFunc(func(ctx context.Context, connectionID string, events []*model.CloudEvent) (*model.BatchResult, error) {
		return model.SuccessBatchResult(), nil
	}))

	subscription, err := bus.Subscribe("org1", &model.CreateSubscriptionRequest{
		ConnectionID: "conn1",
		EventType:    "user.created",
	})
	require.NoError(t, err)

	fetched, err := bus.GetSubscription(subscription.ID, "org1")
	require.NoError(t, err)
	require.NotNil(t, fetched)

	listed, err := bus.ListSubscriptions(&model.SubscriptionsFilter{OrganizationID: "org1"})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	result, err := bus.SyncSubscriptions("org1", &model.SyncSubscriptionsRequest{
		ConnectionID: "conn1",
		Subscriptions: []model.SubscriptionDefinition{
			{EventType: "user.created"},
			{EventType: "user.deleted"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Unchanged)

	removed, err := bus.Unsubscribe(subscription.ID, "org1")
	require.NoError(t, err)
	require.True(t, removed)

	listed, err = bus.ListSubscriptions(&model.SubscriptionsFilter{OrganizationID: "org1"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "user.deleted", listed[0].EventType)
}
