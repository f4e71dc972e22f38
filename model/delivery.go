// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

// DeliveryStatus represents the state of a single (event, subscription)
// delivery.
type DeliveryStatus string

const (
	// DeliveryPending indicates that the delivery awaits an attempt.
	DeliveryPending DeliveryStatus = "pending"
	// DeliveryProcessing indicates that a worker has claimed the delivery.
	DeliveryProcessing DeliveryStatus = "processing"
	// DeliveryDelivered indicates that the subscriber confirmed receipt.
	DeliveryDelivered DeliveryStatus = "delivered"
	// DeliveryFailed indicates that the delivery will not be retried.
	DeliveryFailed DeliveryStatus = "failed"
)

// Delivery is one (event, subscription) attempt record with its own retry
// state. NextRetryAt of 0 means eligible immediately.
type Delivery struct {
	ID             string
	EventID        string
	SubscriptionID string
	Status         DeliveryStatus
	Attempts       int
	LastError      string
	DeliveredAt    int64
	NextRetryAt    int64
	CreateAt       int64
}

// Claim is a delivery atomically moved to processing by a worker, joined
// with its event and subscription.
type Claim struct {
	Delivery     Delivery
	Event        Event
	Subscription Subscription
}

// RetryPolicy controls how failed deliveries are rescheduled.
type RetryPolicy struct {
	MaxAttempts  int
	RetryDelayMs int64
	MaxDelayMs   int64
}

// DefaultRetryPolicy matches the bus defaults: up to 20 attempts with
// exponential backoff from 1 second capped at 1 hour.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  20,
		RetryDelayMs: 1000,
		MaxDelayMs:   3600000,
	}
}

// NextDelayMs returns the backoff delay after the given attempt count,
// where attempts counts the attempt that just failed (starting at 1):
// min(RetryDelayMs * 2^(attempts-1), MaxDelayMs).
func (p RetryPolicy) NextDelayMs(attempts int) int64 {
	if attempts < 1 {
		attempts = 1
	}

	delay := p.RetryDelayMs
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.MaxDelayMs {
			return p.MaxDelayMs
		}
	}
	if delay > p.MaxDelayMs {
		return p.MaxDelayMs
	}
	return delay
}
