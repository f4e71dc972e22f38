// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package events

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cloudbus/cloudbus/internal/notify"
	"github.com/cloudbus/cloudbus/model"
)

// busStore is the store surface the bus relies on, beyond what the worker
// already uses.
type busStore interface {
	workerStore

	CreateEvent(event *model.Event, deliverAt int64) (*model.Event, bool, error)
	CancelEvent(eventID, organizationID, connectionID string) (bool, error)
	AckEventDeliveries(eventID, organizationID, connectionID string) (bool, error)
	GetDeliveriesForEvent(eventID string) ([]*model.Delivery, error)
	CreateSubscription(subscription *model.Subscription) (*model.Subscription, error)
	GetSubscription(id, organizationID string) (*model.Subscription, error)
	GetSubscriptions(filter *model.SubscriptionsFilter) ([]*model.Subscription, error)
	DeleteSubscription(id, organizationID string) (bool, error)
	SyncSubscriptions(organizationID, connectionID string, desired []model.SubscriptionDefinition) (*model.SyncResult, error)
}

// Config tunes the bus and its delivery worker.
type Config struct {
	BatchSize      int
	DeliverTimeout time.Duration
	RetryPolicy    model.RetryPolicy
}

// SetDefaults fills unset fields with production defaults.
func (c *Config) SetDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.DeliverTimeout <= 0 {
		c.DeliverTimeout = 30 * time.Second
	}
	if c.RetryPolicy.MaxAttempts <= 0 {
		c.RetryPolicy = model.DefaultRetryPolicy()
	}
}

// Bus is the facade tying together the store, the delivery worker, and a
// notify strategy. All subscriber-facing and publisher-facing operations
// go through it.
type Bus struct {
	store    busStore
	strategy notify.Strategy
	worker   *Worker
	logger   logrus.FieldLogger

	mutex   sync.Mutex
	running bool
}

// New creates a bus. It does nothing until Start.
func New(store busStore, notifier Notifier, strategy notify.Strategy, config Config, logger logrus.FieldLogger) *Bus {
	config.SetDefaults()

	return &Bus{
		store:    store,
		strategy: strategy,
		worker:   NewWorker(store, notifier, config.RetryPolicy, config.BatchSize, config.DeliverTimeout, logger),
		logger:   logger.WithField("component", "bus"),
	}
}

// Start launches the delivery worker, wires the notify strategy to it,
// and runs an initial pass to pick up deliveries left over from a
// previous process. Start is idempotent.
func (b *Bus) Start() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.running {
		return nil
	}

	err := b.worker.Start()
	if err != nil {
		return errors.Wrap(err, "failed to start delivery worker")
	}

	err = b.strategy.Start(b.worker.ProcessNow)
	if err != nil {
		b.worker.Stop()
		return errors.Wrap(err, "failed to start notify strategy")
	}

	b.running = true
	b.worker.ProcessNow()

	return nil
}

// Stop shuts down the notify strategy and the worker. Stop is idempotent.
func (b *Bus) Stop() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.running {
		return
	}
	b.running = false

	b.strategy.Stop()
	b.worker.Stop()
}

// IsRunning reports whether Start has been called without a matching
// Stop.
func (b *Bus) IsRunning() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.running
}

// Publish validates and persists an event, fanning out deliveries to
// matching subscriptions. Recurring events publish idempotently: a second
// publish of an active recurrence returns the existing event.
func (b *Bus) Publish(organizationID string, request *model.PublishEventRequest) (*model.Event, error) {
	err := request.Validate()
	if err != nil {
		return nil, err
	}

	deliverAt := request.DeliverAt
	if request.Cron != "" {
		deliverAt, err = model.NextCronRunMillis(request.Cron, time.Now())
		if err != nil {
			return nil, err
		}
		if deliverAt == 0 {
			return nil, errors.Wrap(model.ErrInvalidInput, "cron expression yields no future runs")
		}
	}

	event := &model.Event{
		OrganizationID:  organizationID,
		Type:            request.Type,
		Source:          request.ConnectionID,
		Subject:         request.Subject,
		DataContentType: request.DataContentType,
		DataSchema:      request.DataSchema,
		Data:            request.Data,
		Cron:            request.Cron,
	}

	event, created, err := b.store.CreateEvent(event, deliverAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create event")
	}

	if created && deliverAt <= model.GetMillis() {
		b.strategy.Notify(event.ID)
	}

	return event, nil
}

// GetEvent fetches an event by ID within an organization, or nil if not
// found.
func (b *Bus) GetEvent(eventID, organizationID string) (*model.Event, error) {
	return b.store.GetEvent(eventID, organizationID)
}

// GetDeliveries fetches the delivery records of an event within an
// organization. Returns nil when the event does not exist.
func (b *Bus) GetDeliveries(eventID, organizationID string) ([]*model.Delivery, error) {
	event, err := b.store.GetEvent(eventID, organizationID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, nil
	}

	deliveries, err := b.store.GetDeliveriesForEvent(eventID)
	if err != nil {
		return nil, err
	}
	if deliveries == nil {
		// Distinguish "event without subscribers" from "event not found".
		deliveries = []*model.Delivery{}
	}
	return deliveries, nil
}

// CancelEvent marks a non-terminal event failed on behalf of the
// connection that published it. Returns false when nothing was cancelled.
func (b *Bus) CancelEvent(eventID, organizationID, connectionID string) (bool, error) {
	return b.store.CancelEvent(eventID, organizationID, connectionID)
}

// AckEvent settles a connection's pending deliveries of an event ahead of
// the webhook cycle, typically after the subscriber fetched the event
// out of band. Returns false when the event does not exist in the
// organization.
func (b *Bus) AckEvent(eventID, organizationID, connectionID string) (bool, error) {
	return b.store.AckEventDeliveries(eventID, organizationID, connectionID)
}

// Subscribe registers a subscription. Registration is idempotent on the
// full (connection, event type, publisher, filter) tuple.
func (b *Bus) Subscribe(organizationID string, request *model.CreateSubscriptionRequest) (*model.Subscription, error) {
	subscription, err := request.ToSubscription(organizationID)
	if err != nil {
		return nil, err
	}
	return b.store.CreateSubscription(subscription)
}

// Unsubscribe removes a subscription. Already-claimed deliveries finish;
// unclaimed ones are dropped with the subscription. Returns false when
// the subscription does not exist in the organization.
func (b *Bus) Unsubscribe(subscriptionID, organizationID string) (bool, error) {
	return b.store.DeleteSubscription(subscriptionID, organizationID)
}

// GetSubscription fetches a subscription by ID within an organization, or
// nil if not found.
func (b *Bus) GetSubscription(subscriptionID, organizationID string) (*model.Subscription, error) {
	return b.store.GetSubscription(subscriptionID, organizationID)
}

// ListSubscriptions lists subscriptions in an organization, optionally
// narrowed to one connection.
func (b *Bus) ListSubscriptions(filter *model.SubscriptionsFilter) ([]*model.Subscription, error) {
	return b.store.GetSubscriptions(filter)
}

// SyncSubscriptions reconciles a connection's subscriptions to the
// desired set, creating, updating, and deleting as needed.
func (b *Bus) SyncSubscriptions(organizationID string, request *model.SyncSubscriptionsRequest) (*model.SyncResult, error) {
	err := request.Validate()
	if err != nil {
		return nil, err
	}
	return b.store.SyncSubscriptions(organizationID, request.ConnectionID, request.Subscriptions)
}
