// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package notify

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	natsConnectionName = "cloudbus"
	natsMaxReconnects  = -1
	natsReconnectWait  = 2 * time.Second
)

// NATS delivers wakeups over a message broker, reaching workers that do
// not share a database connection with the publisher.
type NATS struct {
	url     string
	subject string
	logger  logrus.FieldLogger

	mutex        sync.Mutex
	conn         *nats.Conn
	subscription *nats.Subscription
	running      bool
}

// NewNATS creates a bus strategy publishing to the given subject.
func NewNATS(url, subject string, logger logrus.FieldLogger) *NATS {
	return &NATS{
		url:     url,
		subject: subject,
		logger:  logger.WithField("notify", StrategyBus),
	}
}

// Start connects to the broker and subscribes to the wakeup subject.
func (n *NATS) Start(onNotify func()) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.running {
		return nil
	}

	conn, err := nats.Connect(n.url,
		nats.Name(natsConnectionName),
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				n.logger.WithError(err).Warn("disconnected from nats")
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			n.logger.WithField("url", conn.ConnectedUrl()).Info("reconnected to nats")
		}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to connect to nats")
	}

	subscription, err := conn.Subscribe(n.subject, func(msg *nats.Msg) {
		n.logger.WithField("payload", string(msg.Data)).Debug("received nats notification")
		onNotify()
	})
	if err != nil {
		conn.Close()
		return errors.Wrapf(err, "failed to subscribe to subject %s", n.subject)
	}

	n.conn = conn
	n.subscription = subscription
	n.running = true

	return nil
}

// Stop unsubscribes and closes the broker connection.
func (n *NATS) Stop() {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if !n.running {
		return
	}
	n.running = false

	err := n.subscription.Unsubscribe()
	if err != nil {
		n.logger.WithError(err).Error("failed to unsubscribe from nats subject")
	}
	n.subscription = nil

	err = n.conn.Drain()
	if err != nil {
		n.logger.WithError(err).Error("failed to drain nats connection")
		n.conn.Close()
	}
	n.conn = nil
}

// Notify publishes the event ID to the wakeup subject. Failures are
// logged and swallowed; the polling fallback covers missed wakeups.
func (n *NATS) Notify(eventID string) {
	n.mutex.Lock()
	conn := n.conn
	n.mutex.Unlock()

	if conn == nil {
		return
	}
	err := conn.Publish(n.subject, []byte(eventID))
	if err != nil {
		n.logger.WithError(err).Warn("failed to publish nats notification")
	}
}
