// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cloudbus/cloudbus/model"
)

// initSubscriptions registers subscription endpoints on the given router.
func initSubscriptions(apiRouter *mux.Router, context *Context) {
	addContext := func(handler contextHandlerFunc) *contextHandler {
		return newContextHandler(context, handler)
	}

	subscriptionsRouter := apiRouter.PathPrefix("/subscriptions").Subrouter()
	subscriptionsRouter.Handle("", addContext(handleListSubscriptions)).Methods("GET")
	subscriptionsRouter.Handle("", addContext(handleRegisterSubscription)).Methods("POST")
	subscriptionsRouter.Handle("/sync", addContext(handleSyncSubscriptions)).Methods("POST")

	subscriptionRouter := apiRouter.PathPrefix("/subscription/{subscription:[A-Za-z0-9]{26}}").Subrouter()
	subscriptionRouter.Handle("", addContext(handleGetSubscription)).Methods("GET")
	subscriptionRouter.Handle("", addContext(handleDeleteSubscription)).Methods("DELETE")
}

// handleRegisterSubscription responds to
// POST /api/organization/{organization}/subscriptions, registering a new
// subscription. Registration is idempotent on the full subscription tuple.
func handleRegisterSubscription(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	organizationID := vars["organization"]
	c.Logger = c.Logger.WithField("organization", organizationID)

	createRequest, err := model.NewCreateSubscriptionRequestFromReader(r.Body)
	if err != nil {
		c.Logger.WithError(err).Error("failed to decode request")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	subscription, err := c.Bus.Subscribe(organizationID, createRequest)
	if err != nil {
		failWithInput(c, w, err, "failed to register subscription")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	outputJSON(c, w, subscription)
}

// handleListSubscriptions responds to
// GET /api/organization/{organization}/subscriptions, returning the
// organization's subscriptions, optionally narrowed by ?connection=.
func handleListSubscriptions(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	organizationID := vars["organization"]

	filter := &model.SubscriptionsFilter{
		OrganizationID: organizationID,
		ConnectionID:   r.URL.Query().Get("connection"),
	}

	subscriptions, err := c.Bus.ListSubscriptions(filter)
	if err != nil {
		c.Logger.WithError(err).Error("failed to query subscriptions")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if subscriptions == nil {
		subscriptions = []*model.Subscription{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, subscriptions)
}

// handleSyncSubscriptions responds to
// POST /api/organization/{organization}/subscriptions/sync, reconciling
// one connection's subscriptions to the desired set.
func handleSyncSubscriptions(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	organizationID := vars["organization"]
	c.Logger = c.Logger.WithField("organization", organizationID)

	syncRequest, err := model.NewSyncSubscriptionsRequestFromReader(r.Body)
	if err != nil {
		c.Logger.WithError(err).Error("failed to decode request")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	result, err := c.Bus.SyncSubscriptions(organizationID, syncRequest)
	if err != nil {
		failWithInput(c, w, err, "failed to sync subscriptions")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, result)
}

// handleGetSubscription responds to
// GET /api/organization/{organization}/subscription/{subscription},
// returning the subscription in question.
func handleGetSubscription(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	organizationID := vars["organization"]
	subscriptionID := vars["subscription"]
	c.Logger = c.Logger.WithField("subscription", subscriptionID)

	subscription, err := c.Bus.GetSubscription(subscriptionID, organizationID)
	if err != nil {
		c.Logger.WithError(err).Error("failed to query subscription")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if subscription == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, subscription)
}

// handleDeleteSubscription responds to
// DELETE /api/organization/{organization}/subscription/{subscription},
// removing the subscription. Already-claimed deliveries still conclude.
func handleDeleteSubscription(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	organizationID := vars["organization"]
	subscriptionID := vars["subscription"]
	c.Logger = c.Logger.WithField("subscription", subscriptionID)

	deleted, err := c.Bus.Unsubscribe(subscriptionID, organizationID)
	if err != nil {
		c.Logger.WithError(err).Error("failed to delete subscription")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !deleted {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusOK)
}
