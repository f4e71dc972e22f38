// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cloudbus/cloudbus/model"
)

// initEvents registers event endpoints on the given router.
func initEvents(apiRouter *mux.Router, context *Context) {
	addContext := func(handler contextHandlerFunc) *contextHandler {
		return newContextHandler(context, handler)
	}

	eventsRouter := apiRouter.PathPrefix("/events").Subrouter()
	eventsRouter.Handle("", addContext(handlePublishEvent)).Methods("POST")

	eventRouter := apiRouter.PathPrefix("/event/{event:[A-Za-z0-9]{26}}").Subrouter()
	eventRouter.Handle("", addContext(handleGetEvent)).Methods("GET")
	eventRouter.Handle("/deliveries", addContext(handleGetEventDeliveries)).Methods("GET")
	eventRouter.Handle("/cancel", addContext(handleCancelEvent)).Methods("POST")
	eventRouter.Handle("/ack", addContext(handleAckEvent)).Methods("POST")
}

// handlePublishEvent responds to POST /api/organization/{organization}/events,
// publishing a new event and fanning out its deliveries.
func handlePublishEvent(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	organizationID := vars["organization"]
	c.Logger = c.Logger.WithField("organization", organizationID)

	publishRequest, err := model.NewPublishEventRequestFromReader(r.Body)
	if err != nil {
		c.Logger.WithError(err).Error("failed to decode request")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := c.Bus.Publish(organizationID, publishRequest)
	if err != nil {
		failWithInput(c, w, err, "failed to publish event")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	outputJSON(c, w, event)
}

// handleGetEvent responds to GET /api/organization/{organization}/event/{event},
// returning the event in question.
func handleGetEvent(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	organizationID := vars["organization"]
	eventID := vars["event"]
	c.Logger = c.Logger.WithField("event", eventID)

	event, err := c.Bus.GetEvent(eventID, organizationID)
	if err != nil {
		c.Logger.WithError(err).Error("failed to query event")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if event == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, event)
}

// handleGetEventDeliveries responds to
// GET /api/organization/{organization}/event/{event}/deliveries, returning
// the per-subscription delivery state of the event.
func handleGetEventDeliveries(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	organizationID := vars["organization"]
	eventID := vars["event"]
	c.Logger = c.Logger.WithField("event", eventID)

	deliveries, err := c.Bus.GetDeliveries(eventID, organizationID)
	if err != nil {
		c.Logger.WithError(err).Error("failed to query event deliveries")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if deliveries == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, deliveries)
}

// handleCancelEvent responds to
// POST /api/organization/{organization}/event/{event}/cancel, cancelling a
// not-yet-concluded event on behalf of its publisher.
func handleCancelEvent(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	organizationID := vars["organization"]
	eventID := vars["event"]
	c.Logger = c.Logger.WithField("event", eventID)

	actorRequest, err := model.NewActorRequestFromReader(r.Body)
	if err != nil {
		c.Logger.WithError(err).Error("failed to decode request")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if actorRequest.ConnectionID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	cancelled, err := c.Bus.CancelEvent(eventID, organizationID, actorRequest.ConnectionID)
	if err != nil {
		c.Logger.WithError(err).Error("failed to cancel event")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !cancelled {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleAckEvent responds to
// POST /api/organization/{organization}/event/{event}/ack, settling the
// calling connection's deliveries of the event.
func handleAckEvent(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	organizationID := vars["organization"]
	eventID := vars["event"]
	c.Logger = c.Logger.WithField("event", eventID)

	actorRequest, err := model.NewActorRequestFromReader(r.Body)
	if err != nil {
		c.Logger.WithError(err).Error("failed to decode request")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if actorRequest.ConnectionID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	acked, err := c.Bus.AckEvent(eventID, organizationID, actorRequest.ConnectionID)
	if err != nil {
		c.Logger.WithError(err).Error("failed to ack event")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !acked {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusOK)
}
