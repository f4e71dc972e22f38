// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// CloudEventsSpecVersion is the only envelope version the bus emits.
const CloudEventsSpecVersion = "1.0"

// DefaultDataContentType is assumed when a publisher does not set one.
const DefaultDataContentType = "application/json"

// EventStatus represents the rolled-up delivery state of an Event.
type EventStatus string

const (
	// EventPending indicates that at least one delivery has yet to be attempted.
	EventPending EventStatus = "pending"
	// EventProcessing indicates that deliveries are currently being attempted.
	EventProcessing EventStatus = "processing"
	// EventDelivered indicates that every delivery succeeded.
	EventDelivered EventStatus = "delivered"
	// EventFailed indicates that at least one delivery failed permanently,
	// or that the publisher cancelled the event.
	EventFailed EventStatus = "failed"
)

// CancelledByPublisher is the LastError recorded when a publisher cancels
// its own event.
const CancelledByPublisher = "Cancelled by publisher"

// Event is one published message tracked for durable delivery.
//
// Timestamps are milliseconds since epoch. Optional string attributes use
// the empty string for absence. Data holds raw JSON passed through as-is.
type Event struct {
	ID              string
	OrganizationID  string
	Type            string
	Source          string // publisher connection ID
	Subject         string
	Timestamp       int64
	DataContentType string
	DataSchema      string
	Data            []byte
	Cron            string // empty for one-shot events
	Status          EventStatus
	Attempts        int
	LastError       string
	NextRetryAt     int64
	CreateAt        int64
	UpdateAt        int64
}

// IsRecurring returns true if the event is driven by a cron schedule.
func (e *Event) IsRecurring() bool {
	return e.Cron != ""
}

// IsCancelled reports whether the publisher cancelled the event, the
// only way a recurrence stops for good.
func (e *Event) IsCancelled() bool {
	return e.Status == EventFailed && e.LastError == CancelledByPublisher
}

// IsTerminal reports whether the event status permits no further state
// changes. For recurring events only a publisher cancellation is
// terminal; a failed tick still recurs.
func (e *Event) IsTerminal() bool {
	if e.IsRecurring() {
		return e.IsCancelled()
	}
	return e.Status == EventDelivered || e.Status == EventFailed
}

// CloudEvent is the on-the-wire shape handed to subscribers, matching the
// CloudEvents 1.0 JSON envelope.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	Time            string          `json:"time"`
	Subject         string          `json:"subject,omitempty"`
	DataContentType string          `json:"datacontenttype"`
	DataSchema      string          `json:"dataschema,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// ToCloudEvent builds the envelope delivered to subscribers.
func (e *Event) ToCloudEvent() *CloudEvent {
	contentType := e.DataContentType
	if contentType == "" {
		contentType = DefaultDataContentType
	}

	return &CloudEvent{
		SpecVersion:     CloudEventsSpecVersion,
		ID:              e.ID,
		Source:          e.Source,
		Type:            e.Type,
		Time:            RFC3339FromMillis(e.Timestamp),
		Subject:         e.Subject,
		DataContentType: contentType,
		DataSchema:      e.DataSchema,
		Data:            json.RawMessage(e.Data),
	}
}

// NewEventFromReader will create an Event from an io.Reader with JSON data.
func NewEventFromReader(reader io.Reader) (*Event, error) {
	var event Event
	err := json.NewDecoder(reader).Decode(&event)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode Event")
	}

	return &event, nil
}
