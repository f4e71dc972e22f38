// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// EventResult is a subscriber's verdict on a single event within a batch.
// Omitted fields mean "fall back to the batch-level result".
type EventResult struct {
	Success    *bool  `json:"success,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryAfter int64  `json:"retryAfter,omitempty"` // milliseconds
}

// BatchResult is the subscriber's response to one delivery invocation.
// When Results is non-empty the worker applies per-event verdicts; events
// absent from the map inherit the batch-level fields.
type BatchResult struct {
	Success    *bool                  `json:"success,omitempty"`
	Error      string                 `json:"error,omitempty"`
	RetryAfter int64                  `json:"retryAfter,omitempty"` // milliseconds
	Results    map[string]EventResult `json:"results,omitempty"`    // keyed by event ID
}

// ResultForEvent resolves the effective verdict for the given event ID,
// falling back to batch-level fields when no per-event entry exists.
func (r *BatchResult) ResultForEvent(eventID string) EventResult {
	if result, ok := r.Results[eventID]; ok {
		return result
	}
	return EventResult{
		Success:    r.Success,
		Error:      r.Error,
		RetryAfter: r.RetryAfter,
	}
}

// SuccessBatchResult is a convenience for subscribers accepting a whole
// batch.
func SuccessBatchResult() *BatchResult {
	success := true
	return &BatchResult{Success: &success}
}

// FailureBatchResult is a convenience for subscribers rejecting a whole
// batch.
func FailureBatchResult(message string) *BatchResult {
	success := false
	return &BatchResult{Success: &success, Error: message}
}

// NewBatchResultFromReader will create a BatchResult from an io.Reader
// with JSON data.
func NewBatchResultFromReader(reader io.Reader) (*BatchResult, error) {
	var result BatchResult
	err := json.NewDecoder(reader).Decode(&result)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode BatchResult")
	}

	return &result, nil
}
