// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishEventRequestValid(t *testing.T) {
	testCases := []struct {
		description string
		request     *PublishEventRequest
		valid       bool
	}{
		{
			"defaults",
			&PublishEventRequest{Type: "order.created"},
			true,
		},
		{
			"missing type",
			&PublishEventRequest{ConnectionID: "billing"},
			false,
		},
		{
			"scheduled",
			&PublishEventRequest{Type: "order.created", DeliverAt: GetMillis() + 60000},
			true,
		},
		{
			"recurring",
			&PublishEventRequest{Type: "report.run", Cron: "*/5 * * * *"},
			true,
		},
		{
			"deliverAt and cron together",
			&PublishEventRequest{Type: "report.run", DeliverAt: GetMillis(), Cron: "@hourly"},
			false,
		},
		{
			"invalid cron",
			&PublishEventRequest{Type: "report.run", Cron: "whenever"},
			false,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			err := testCase.request.Validate()
			if testCase.valid {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, IsInvalidInput(err))
			}
		})
	}
}

func TestNewPublishEventRequestFromReader(t *testing.T) {
	t.Run("invalid request", func(t *testing.T) {
		_, err := NewPublishEventRequestFromReader(bytes.NewReader([]byte(
			`{"type": bad`,
		)))
		require.Error(t, err)
	})

	t.Run("request", func(t *testing.T) {
		request, err := NewPublishEventRequestFromReader(bytes.NewReader([]byte(
			`{"connectionId":"billing","type":"order.created","subject":"order-42","data":{"amount":10}}`,
		)))
		require.NoError(t, err)
		assert.Equal(t, "billing", request.ConnectionID)
		assert.Equal(t, "order.created", request.Type)
		assert.Equal(t, "order-42", request.Subject)
		assert.JSONEq(t, `{"amount":10}`, string(request.Data))
	})
}

func TestCreateSubscriptionRequestToSubscription(t *testing.T) {
	t.Run("missing connection", func(t *testing.T) {
		request := &CreateSubscriptionRequest{EventType: "order.created"}
		_, err := request.ToSubscription("org1")
		require.Error(t, err)
		assert.True(t, IsInvalidInput(err))
	})

	t.Run("missing event type", func(t *testing.T) {
		request := &CreateSubscriptionRequest{ConnectionID: "fulfillment"}
		_, err := request.ToSubscription("org1")
		require.Error(t, err)
		assert.True(t, IsInvalidInput(err))
	})

	t.Run("valid", func(t *testing.T) {
		request := &CreateSubscriptionRequest{
			ConnectionID: "fulfillment",
			EventType:    "order.created",
			Publisher:    "billing",
			Filter:       "order-*",
		}

		subscription, err := request.ToSubscription("org1")
		require.NoError(t, err)
		assert.Equal(t, "org1", subscription.OrganizationID)
		assert.Equal(t, "fulfillment", subscription.ConnectionID)
		assert.Equal(t, "order.created", subscription.EventType)
		assert.Equal(t, "billing", subscription.Publisher)
		assert.Equal(t, "order-*", subscription.Filter)
		assert.True(t, subscription.Enabled)
	})
}

func TestSyncSubscriptionsRequestValid(t *testing.T) {
	t.Run("missing connection", func(t *testing.T) {
		request := &SyncSubscriptionsRequest{}
		err := request.Validate()
		require.Error(t, err)
		assert.True(t, IsInvalidInput(err))
	})

	t.Run("definition without event type", func(t *testing.T) {
		request := &SyncSubscriptionsRequest{
			ConnectionID:  "fulfillment",
			Subscriptions: []SubscriptionDefinition{{Publisher: "billing"}},
		}
		err := request.Validate()
		require.Error(t, err)
		assert.True(t, IsInvalidInput(err))
	})

	t.Run("valid empty desired state", func(t *testing.T) {
		request := &SyncSubscriptionsRequest{ConnectionID: "fulfillment"}
		assert.NoError(t, request.Validate())
	})
}
