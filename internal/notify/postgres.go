// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package notify

import (
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
)

// PostgresListen delivers wakeups through LISTEN/NOTIFY on the shared
// database, so any process with store access can reach the workers
// without extra infrastructure. Requires the postgres driver.
type PostgresListen struct {
	store   ServerStore
	channel string
	logger  logrus.FieldLogger

	mutex    sync.Mutex
	listener *pq.Listener
	done     chan struct{}
	running  bool
}

// NewPostgresListen creates a listen/notify strategy on the given channel.
func NewPostgresListen(store ServerStore, channel string, logger logrus.FieldLogger) *PostgresListen {
	return &PostgresListen{
		store:   store,
		channel: channel,
		logger:  logger.WithField("notify", StrategyServer),
	}
}

// Start opens the listener connection and begins forwarding notifications.
func (s *PostgresListen) Start(onNotify func()) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return nil
	}

	listener := pq.NewListener(s.store.DSN(), listenerMinReconnect, listenerMaxReconnect, func(event pq.ListenerEventType, err error) {
		if err != nil {
			s.logger.WithError(err).Warn("postgres listener connection event")
		}
	})
	err := listener.Listen(s.channel)
	if err != nil {
		closeErr := listener.Close()
		if closeErr != nil {
			s.logger.WithError(closeErr).Error("failed to close postgres listener")
		}
		return errors.Wrapf(err, "failed to listen on channel %s", s.channel)
	}

	s.listener = listener
	s.done = make(chan struct{})
	s.running = true

	go s.listenLoop(listener, s.done, onNotify)

	return nil
}

func (s *PostgresListen) listenLoop(listener *pq.Listener, done chan struct{}, onNotify func()) {
	for {
		select {
		case <-done:
			return
		case notification, ok := <-listener.Notify:
			if !ok {
				return
			}
			// A nil notification signals a reconnect; wake the worker
			// anyway in case notifications were missed while down.
			if notification != nil {
				s.logger.WithField("payload", notification.Extra).Debug("received postgres notification")
			}
			onNotify()
		}
	}
}

// Stop closes the listener connection.
func (s *PostgresListen) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.done)

	err := s.listener.Close()
	if err != nil {
		s.logger.WithError(err).Error("failed to close postgres listener")
	}
	s.listener = nil
}

// Notify raises a notification on the channel. Failures are logged and
// swallowed; the polling fallback covers missed wakeups.
func (s *PostgresListen) Notify(eventID string) {
	err := s.store.NotifyChannel(s.channel, eventID)
	if err != nil {
		s.logger.WithError(err).Warn("failed to send postgres notification")
	}
}
