// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package notify wakes delivery workers when new work may exist.
//
// Correctness never depends on a notification arriving: the polling
// strategy is the safety net, and faster strategies (postgres
// LISTEN/NOTIFY, NATS) are composed on top of it for low-latency
// delivery.
package notify

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Default wiring for the faster strategies.
const (
	DefaultChannel = "cloudbus_events"
	DefaultSubject = "cloudbus.events"
)

// Strategy names accepted in configuration.
const (
	StrategyPolling = "polling"
	StrategyServer  = "server"
	StrategyBus     = "bus"
)

// Strategy is a pluggable wake-up mechanism for delivery workers.
type Strategy interface {
	// Start begins listening; onNotify is invoked once per wake-up.
	// Coalescing of near-simultaneous wake-ups is allowed.
	Start(onNotify func()) error
	// Stop releases resources held by the strategy.
	Stop()
	// Notify signals, best effort, that new work exists for the given
	// event. The payload is informational only.
	Notify(eventID string)
}

// Config selects and parameterizes a strategy.
type Config struct {
	// Strategy forces a specific strategy by name. Empty selects
	// automatically: bus when BusURL is set, server on a postgres store,
	// polling otherwise.
	Strategy     string
	PollInterval time.Duration
	Channel      string
	BusURL       string
	Subject      string
}

// SetDefaults fills zero values with production defaults.
func (c *Config) SetDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
}

// ServerStore is the store surface the server-side strategy needs.
type ServerStore interface {
	DriverName() string
	DSN() string
	NotifyChannel(channel, payload string) error
}

// NewStrategy builds the configured strategy. Every non-polling selection
// is composed with polling, which also covers scheduled deliveries whose
// retry time has arrived.
func NewStrategy(cfg Config, sqlStore ServerStore, logger logrus.FieldLogger) (Strategy, error) {
	cfg.SetDefaults()

	polling := NewPolling(cfg.PollInterval, logger)

	name := cfg.Strategy
	if name == "" {
		switch {
		case cfg.BusURL != "":
			name = StrategyBus
		case sqlStore.DriverName() == "postgres":
			name = StrategyServer
		default:
			name = StrategyPolling
		}
	}

	switch name {
	case StrategyPolling:
		return polling, nil

	case StrategyServer:
		if sqlStore.DriverName() != "postgres" {
			return nil, errors.Errorf("notify strategy %s requires a postgres store", StrategyServer)
		}
		return Compose(logger, NewPostgresListen(sqlStore, cfg.Channel, logger), polling), nil

	case StrategyBus:
		if cfg.BusURL == "" {
			return nil, errors.Errorf("notify strategy %s requires a bus URL", StrategyBus)
		}
		return Compose(logger, NewNATS(cfg.BusURL, cfg.Subject, logger), polling), nil

	default:
		return nil, errors.Errorf("unknown notify strategy %q", name)
	}
}
