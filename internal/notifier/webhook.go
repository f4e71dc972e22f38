// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cloudbus/cloudbus/model"
)

const contentTypeApplicationJSON = "application/json"

// URLResolver maps a subscriber connection to its webhook endpoint.
type URLResolver interface {
	ResolveURL(connectionID string) (string, error)
}

// URLResolverFunc adapts a function to the URLResolver interface.
type URLResolverFunc func(connectionID string) (string, error)

// ResolveURL implements URLResolver.
func (f URLResolverFunc) ResolveURL(connectionID string) (string, error) {
	return f(connectionID)
}

// StaticURLResolver resolves every connection against a fixed base URL,
// appending the connection ID as the final path segment. Useful for
// single-consumer deployments and local testing.
func StaticURLResolver(baseURL string) URLResolver {
	return URLResolverFunc(func(connectionID string) (string, error) {
		return fmt.Sprintf("%s/%s", baseURL, connectionID), nil
	})
}

// Webhook delivers event batches to subscribers over HTTP POST. The
// response body, when present, is decoded as a batch result; an empty 2xx
// response counts as full acceptance.
type Webhook struct {
	client   *http.Client
	resolver URLResolver
	logger   logrus.FieldLogger
}

// NewWebhook creates a webhook notifier using the given resolver. A nil
// client falls back to a default with a 30 second timeout.
func NewWebhook(client *http.Client, resolver URLResolver, logger logrus.FieldLogger) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Webhook{
		client:   client,
		resolver: resolver,
		logger:   logger.WithField("component", "webhook-notifier"),
	}
}

// Deliver posts the batch to the connection's endpoint and interprets the
// response. Transport errors and 5xx responses return an error, which the
// worker treats as a retryable failure of the whole batch. Other non-2xx
// responses are rejections that consume an attempt per event.
func (w *Webhook) Deliver(ctx context.Context, connectionID string, events []*model.CloudEvent) (*model.BatchResult, error) {
	url, err := w.resolver.ResolveURL(connectionID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve webhook url for connection %s", connectionID)
	}

	payload, err := json.Marshal(events)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event batch")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create webhook request")
	}
	req.Header.Set("Content-Type", contentTypeApplicationJSON)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to deliver event batch")
	}
	defer drainBody(resp.Body)

	if resp.StatusCode >= 500 {
		return nil, errors.Errorf(
			"subscriber failed to receive event batch, got %d response code, body: %s",
			resp.StatusCode, attemptToReadBody(resp.Body),
		)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.WithFields(logrus.Fields{
			"connection": connectionID,
			"status":     resp.StatusCode,
		}).Warn("subscriber rejected event batch")
		return model.FailureBatchResult(fmt.Sprintf("subscriber responded with status %d", resp.StatusCode)), nil
	}

	result, err := model.NewBatchResultFromReader(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode subscriber response")
	}
	if result.Success == nil && result.Error == "" && result.RetryAfter == 0 && len(result.Results) == 0 {
		// An empty 2xx body accepts the whole batch.
		return model.SuccessBatchResult(), nil
	}
	return result, nil
}

func attemptToReadBody(reader io.Reader) string {
	body, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Sprintf("failed to read body: %s", err.Error())
	}
	return string(body)
}

func drainBody(readCloser io.ReadCloser) {
	_, _ = io.ReadAll(readCloser)
	_ = readCloser.Close()
}
