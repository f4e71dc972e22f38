// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package events

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudbus/cloudbus/model"
)

const defaultFailureMessage = "subscriber rejected delivery"

// Notifier delivers a batch of events to a single subscriber connection
// and reports the outcome.
type Notifier interface {
	Deliver(ctx context.Context, connectionID string, events []*model.CloudEvent) (*model.BatchResult, error)
}

// workerStore is the store surface the delivery worker relies on.
type workerStore interface {
	ClaimPendingDeliveries(limit int) ([]*model.Claim, error)
	MarkDeliveriesDelivered(deliveryIDs []string) error
	MarkDeliveriesFailed(deliveryIDs []string, deliveryError string, policy model.RetryPolicy) error
	ScheduleDeliveryRetries(deliveryIDs []string, delayMs int64) error
	ResetStuckDeliveries() (int64, error)
	RollupEventStatus(eventID string) error
	ScheduleNextCronDeliveries(eventID string, deliverAt int64) (int, error)
	GetEvent(id, organizationID string) (*model.Event, error)
}

// Worker claims pending deliveries and drives them to a conclusion. A
// single background goroutine drains batches; wakeups from any number of
// notify strategies coalesce into at most one queued run.
type Worker struct {
	store          workerStore
	notifier       Notifier
	policy         model.RetryPolicy
	batchSize      int
	deliverTimeout time.Duration
	logger         logrus.FieldLogger

	mutex   sync.Mutex
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	running bool
}

// NewWorker creates a delivery worker. It does nothing until Start.
func NewWorker(store workerStore, notifier Notifier, policy model.RetryPolicy, batchSize int, deliverTimeout time.Duration, logger logrus.FieldLogger) *Worker {
	return &Worker{
		store:          store,
		notifier:       notifier,
		policy:         policy,
		batchSize:      batchSize,
		deliverTimeout: deliverTimeout,
		logger:         logger.WithField("component", "delivery-worker"),
	}
}

// Start recovers deliveries abandoned by a previous process and launches
// the background loop.
func (w *Worker) Start() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.running {
		return nil
	}

	reset, err := w.store.ResetStuckDeliveries()
	if err != nil {
		return err
	}
	if reset > 0 {
		w.logger.WithField("deliveries", reset).Info("reset stuck deliveries from previous run")
	}

	w.wake = make(chan struct{}, 1)
	w.stop = make(chan struct{})
	w.stopped = make(chan struct{})
	w.running = true

	go w.loop(w.wake, w.stop, w.stopped)

	return nil
}

// Stop shuts down the background loop, waiting for an in-flight batch to
// finish.
func (w *Worker) Stop() {
	w.mutex.Lock()
	if !w.running {
		w.mutex.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	stopped := w.stopped
	w.mutex.Unlock()

	<-stopped
}

// ProcessNow schedules an immediate processing pass. Safe to call from
// any goroutine; concurrent calls coalesce.
func (w *Worker) ProcessNow() {
	w.mutex.Lock()
	wake := w.wake
	running := w.running
	w.mutex.Unlock()

	if !running {
		return
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

func (w *Worker) loop(wake, stop, stopped chan struct{}) {
	defer close(stopped)

	for {
		select {
		case <-stop:
			return
		case <-wake:
			w.drain(stop)
		}
	}
}

// drain claims and processes batches until no eligible deliveries remain
// or the worker is stopped.
func (w *Worker) drain(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		claims, err := w.store.ClaimPendingDeliveries(w.batchSize)
		if err != nil {
			w.logger.WithError(err).Error("failed to claim pending deliveries")
			return
		}
		if len(claims) == 0 {
			return
		}

		w.processClaims(claims)

		if len(claims) < w.batchSize {
			return
		}
	}
}

// connectionBatch is the work for one subscriber connection within a
// claimed batch: the deduplicated events to deliver and the delivery rows
// behind each event.
type connectionBatch struct {
	connectionID string
	events       []*model.Event
	deliveryIDs  map[string][]string // event ID -> delivery IDs
}

func (w *Worker) processClaims(claims []*model.Claim) {
	batches := groupByConnection(claims)

	var wg sync.WaitGroup
	for _, batch := range batches {
		wg.Add(1)
		go func(batch *connectionBatch) {
			defer wg.Done()
			w.deliverBatch(batch)
		}(batch)
	}
	wg.Wait()

	w.concludeEvents(claims)
}

// groupByConnection buckets claims per subscriber connection, collapsing
// multiple deliveries of the same event into a single envelope.
func groupByConnection(claims []*model.Claim) []*connectionBatch {
	index := make(map[string]*connectionBatch)
	var ordered []*connectionBatch

	for _, claim := range claims {
		connectionID := claim.Subscription.ConnectionID
		batch, ok := index[connectionID]
		if !ok {
			batch = &connectionBatch{
				connectionID: connectionID,
				deliveryIDs:  make(map[string][]string),
			}
			index[connectionID] = batch
			ordered = append(ordered, batch)
		}

		eventID := claim.Event.ID
		if _, seen := batch.deliveryIDs[eventID]; !seen {
			event := claim.Event
			batch.events = append(batch.events, &event)
		}
		batch.deliveryIDs[eventID] = append(batch.deliveryIDs[eventID], claim.Delivery.ID)
	}

	return ordered
}

func (w *Worker) deliverBatch(batch *connectionBatch) {
	logger := w.logger.WithFields(logrus.Fields{
		"connection": batch.connectionID,
		"events":     len(batch.events),
	})

	envelopes := make([]*model.CloudEvent, 0, len(batch.events))
	for _, event := range batch.events {
		envelopes = append(envelopes, event.ToCloudEvent())
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.deliverTimeout)
	defer cancel()

	result, err := w.notifier.Deliver(ctx, batch.connectionID, envelopes)
	if err != nil {
		logger.WithError(err).Warn("delivery attempt failed")
		err = w.store.MarkDeliveriesFailed(allDeliveryIDs(batch), err.Error(), w.policy)
		if err != nil {
			logger.WithError(err).Error("failed to record delivery failure")
		}
		return
	}

	w.applyResult(logger, batch, result)
}

// applyResult settles every delivery in the batch according to the
// subscriber's per-event verdicts, falling back to the batch-level
// verdict for events the response does not mention.
func (w *Worker) applyResult(logger logrus.FieldLogger, batch *connectionBatch, result *model.BatchResult) {
	var delivered []string
	retries := make(map[int64][]string)   // retry delay -> delivery IDs
	failures := make(map[string][]string) // error message -> delivery IDs

	for _, event := range batch.events {
		ids := batch.deliveryIDs[event.ID]
		verdict := result.ResultForEvent(event.ID)

		switch {
		case verdict.Success != nil && *verdict.Success:
			delivered = append(delivered, ids...)
		case verdict.RetryAfter > 0:
			retries[verdict.RetryAfter] = append(retries[verdict.RetryAfter], ids...)
		default:
			message := verdict.Error
			if message == "" {
				message = defaultFailureMessage
			}
			failures[message] = append(failures[message], ids...)
		}
	}

	if len(delivered) > 0 {
		err := w.store.MarkDeliveriesDelivered(delivered)
		if err != nil {
			logger.WithError(err).Error("failed to mark deliveries delivered")
		}
	}
	for delay, ids := range retries {
		err := w.store.ScheduleDeliveryRetries(ids, delay)
		if err != nil {
			logger.WithError(err).Error("failed to schedule delivery retries")
		}
	}
	for message, ids := range failures {
		err := w.store.MarkDeliveriesFailed(ids, message, w.policy)
		if err != nil {
			logger.WithError(err).Error("failed to mark deliveries failed")
		}
	}
}

// concludeEvents rolls up event status for every distinct event touched
// by the batch, then schedules the next occurrence of recurring events.
// Only a publisher cancellation stops a recurrence; a tick that failed
// terminally still yields a next run.
func (w *Worker) concludeEvents(claims []*model.Claim) {
	seen := make(map[string]bool)

	for _, claim := range claims {
		eventID := claim.Event.ID
		if seen[eventID] {
			continue
		}
		seen[eventID] = true

		logger := w.logger.WithField("event", eventID)

		err := w.store.RollupEventStatus(eventID)
		if err != nil {
			logger.WithError(err).Error("failed to roll up event status")
			continue
		}

		if !claim.Event.IsRecurring() {
			continue
		}

		event, err := w.store.GetEvent(eventID, claim.Event.OrganizationID)
		if err != nil {
			logger.WithError(err).Error("failed to get recurring event after rollup")
			continue
		}
		if event == nil || event.IsCancelled() {
			continue
		}

		next, err := model.NextCronRunMillis(event.Cron, time.Now())
		if err != nil {
			logger.WithError(err).Error("failed to compute next cron run")
			continue
		}
		if next == 0 {
			logger.Info("cron schedule exhausted")
			continue
		}

		scheduled, err := w.store.ScheduleNextCronDeliveries(eventID, next)
		if err != nil {
			logger.WithError(err).Error("failed to schedule next cron deliveries")
			continue
		}
		if scheduled > 0 {
			logger.WithFields(logrus.Fields{
				"deliveries": scheduled,
				"deliverAt":  next,
			}).Debug("scheduled next cron deliveries")
		}
	}
}

func allDeliveryIDs(batch *connectionBatch) []string {
	var ids []string
	for _, eventIDs := range batch.deliveryIDs {
		ids = append(ids, eventIDs...)
	}
	return ids
}
