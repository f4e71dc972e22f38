// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import (
	"github.com/sirupsen/logrus"

	"github.com/cloudbus/cloudbus/model"
)

// EventBus describes the bus surface required to respond to API requests.
type EventBus interface {
	Publish(organizationID string, request *model.PublishEventRequest) (*model.Event, error)
	GetEvent(eventID, organizationID string) (*model.Event, error)
	GetDeliveries(eventID, organizationID string) ([]*model.Delivery, error)
	CancelEvent(eventID, organizationID, connectionID string) (bool, error)
	AckEvent(eventID, organizationID, connectionID string) (bool, error)

	Subscribe(organizationID string, request *model.CreateSubscriptionRequest) (*model.Subscription, error)
	Unsubscribe(subscriptionID, organizationID string) (bool, error)
	GetSubscription(subscriptionID, organizationID string) (*model.Subscription, error)
	ListSubscriptions(filter *model.SubscriptionsFilter) ([]*model.Subscription, error)
	SyncSubscriptions(organizationID string, request *model.SyncSubscriptionsRequest) (*model.SyncResult, error)
}

// Context provides the API with all necessary data and interfaces for
// responding to requests.
//
// It is cloned before each request, allowing per-request changes such as
// logger annotations.
type Context struct {
	Bus    EventBus
	Logger logrus.FieldLogger
}

// Clone creates a shallow copy of context, allowing clones to apply
// per-request changes.
func (c *Context) Clone() *Context {
	return &Context{
		Bus:    c.Bus,
		Logger: c.Logger,
	}
}
