// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// PublishEventRequest represents a request to publish an event.
// DeliverAt (epoch millis) schedules a one-shot delayed delivery; Cron
// schedules recurring delivery. At most one of the two may be set.
type PublishEventRequest struct {
	ConnectionID    string          `json:"connectionId"`
	Type            string          `json:"type"`
	Subject         string          `json:"subject,omitempty"`
	DataContentType string          `json:"datacontenttype,omitempty"`
	DataSchema      string          `json:"dataschema,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	DeliverAt       int64           `json:"deliverAt,omitempty"`
	Cron            string          `json:"cron,omitempty"`
}

// Validate checks the request invariants shared by the API and the Bus.
func (r *PublishEventRequest) Validate() error {
	if r.Type == "" {
		return errors.Wrap(ErrInvalidInput, "event type is required")
	}
	if r.DeliverAt != 0 && r.Cron != "" {
		return errors.Wrap(ErrInvalidInput, "deliverAt and cron are mutually exclusive")
	}
	if r.Cron != "" {
		if _, err := ParseCron(r.Cron); err != nil {
			return err
		}
	}
	return nil
}

// NewPublishEventRequestFromReader will create a PublishEventRequest from
// an io.Reader with JSON data.
func NewPublishEventRequestFromReader(reader io.Reader) (*PublishEventRequest, error) {
	var request PublishEventRequest
	err := json.NewDecoder(reader).Decode(&request)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode PublishEventRequest")
	}

	return &request, nil
}

// CreateSubscriptionRequest represents a request to create a Subscription.
type CreateSubscriptionRequest struct {
	ConnectionID string `json:"connectionId"`
	EventType    string `json:"eventType"`
	Publisher    string `json:"publisher,omitempty"`
	Filter       string `json:"filter,omitempty"`
}

// ToSubscription validates the request and converts it to a Subscription.
func (r *CreateSubscriptionRequest) ToSubscription(organizationID string) (*Subscription, error) {
	if r.ConnectionID == "" {
		return nil, errors.Wrap(ErrInvalidInput, "connection ID is required when registering subscription")
	}
	if r.EventType == "" {
		return nil, errors.Wrap(ErrInvalidInput, "event type is required when registering subscription")
	}

	return &Subscription{
		OrganizationID: organizationID,
		ConnectionID:   r.ConnectionID,
		EventType:      r.EventType,
		Publisher:      r.Publisher,
		Filter:         r.Filter,
		Enabled:        true,
	}, nil
}

// NewCreateSubscriptionRequestFromReader will create a
// CreateSubscriptionRequest from an io.Reader with JSON data.
func NewCreateSubscriptionRequestFromReader(reader io.Reader) (*CreateSubscriptionRequest, error) {
	var request CreateSubscriptionRequest
	err := json.NewDecoder(reader).Decode(&request)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode CreateSubscriptionRequest")
	}

	return &request, nil
}

// SyncSubscriptionsRequest represents a desired-state reconcile of one
// connection's subscriptions.
type SyncSubscriptionsRequest struct {
	ConnectionID  string                   `json:"connectionId"`
	Subscriptions []SubscriptionDefinition `json:"subscriptions"`
}

// Validate checks the request invariants.
func (r *SyncSubscriptionsRequest) Validate() error {
	if r.ConnectionID == "" {
		return errors.Wrap(ErrInvalidInput, "connection ID is required when syncing subscriptions")
	}
	for _, definition := range r.Subscriptions {
		if definition.EventType == "" {
			return errors.Wrap(ErrInvalidInput, "event type is required for every synced subscription")
		}
	}
	return nil
}

// NewSyncSubscriptionsRequestFromReader will create a
// SyncSubscriptionsRequest from an io.Reader with JSON data.
func NewSyncSubscriptionsRequestFromReader(reader io.Reader) (*SyncSubscriptionsRequest, error) {
	var request SyncSubscriptionsRequest
	err := json.NewDecoder(reader).Decode(&request)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode SyncSubscriptionsRequest")
	}

	return &request, nil
}

// ActorRequest carries the caller connection for cancel and ack calls.
type ActorRequest struct {
	ConnectionID string `json:"connectionId"`
}

// NewActorRequestFromReader will create an ActorRequest from an io.Reader
// with JSON data.
func NewActorRequestFromReader(reader io.Reader) (*ActorRequest, error) {
	var request ActorRequest
	err := json.NewDecoder(reader).Decode(&request)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode ActorRequest")
	}

	return &request, nil
}
