// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Subscription is a connection's standing interest in an event type.
//
// Publisher narrows matching to a single source connection; empty means
// any publisher. Filter is an opaque expression on event data which the
// bus stores and hands to the subscriber but never evaluates.
type Subscription struct {
	ID             string
	OrganizationID string
	ConnectionID   string // receiver
	EventType      string
	Publisher      string
	Filter         string
	Enabled        bool
	CreateAt       int64
	UpdateAt       int64
}

// Matches reports whether the subscription is interested in the event.
// Filter expressions are deliberately not consulted here.
func (s *Subscription) Matches(event *Event) bool {
	if !s.Enabled || s.OrganizationID != event.OrganizationID {
		return false
	}
	if s.EventType != event.Type {
		return false
	}
	return s.Publisher == "" || s.Publisher == event.Source
}

// SubscriptionDefinition identifies one desired subscription tuple during
// a sync. Tuples are keyed by (EventType, Publisher); Filter is payload.
type SubscriptionDefinition struct {
	EventType string `json:"eventType"`
	Publisher string `json:"publisher,omitempty"`
	Filter    string `json:"filter,omitempty"`
}

// SyncResult summarizes a desired-state reconciliation of subscriptions.
type SyncResult struct {
	Created       int             `json:"created"`
	Updated       int             `json:"updated"`
	Deleted       int             `json:"deleted"`
	Unchanged     int             `json:"unchanged"`
	Subscriptions []*Subscription `json:"subscriptions"`
}

// SubscriptionsFilter is a filter for subscription queries.
type SubscriptionsFilter struct {
	OrganizationID string
	ConnectionID   string
}

// NewSubscriptionFromReader will create a Subscription from an io.Reader
// with JSON data.
func NewSubscriptionFromReader(reader io.Reader) (*Subscription, error) {
	var subscription Subscription
	err := json.NewDecoder(reader).Decode(&subscription)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode Subscription")
	}

	return &subscription, nil
}

// NewSubscriptionsFromReader will create a slice of Subscriptions from an
// io.Reader with JSON data.
func NewSubscriptionsFromReader(reader io.Reader) ([]*Subscription, error) {
	subscriptions := []*Subscription{}
	err := json.NewDecoder(reader).Decode(&subscriptions)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode Subscriptions")
	}

	return subscriptions, nil
}

// NewSyncResultFromReader will create a SyncResult from an io.Reader with
// JSON data.
func NewSyncResultFromReader(reader io.Reader) (*SyncResult, error) {
	var result SyncResult
	err := json.NewDecoder(reader).Decode(&result)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode SyncResult")
	}

	return &result, nil
}
