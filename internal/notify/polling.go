// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package notify

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Polling wakes the worker on a fixed interval using a single-shot timer
// rescheduled after each fire. Notify short-circuits the timer for
// same-process publishes. This is the correctness baseline: the bus must
// function with polling alone.
type Polling struct {
	interval time.Duration
	logger   logrus.FieldLogger

	mutex    sync.Mutex
	timer    *time.Timer
	onNotify func()
	running  bool
}

// NewPolling creates a polling strategy with the given interval.
func NewPolling(interval time.Duration, logger logrus.FieldLogger) *Polling {
	return &Polling{
		interval: interval,
		logger:   logger.WithField("notify", StrategyPolling),
	}
}

// Start begins the polling cycle.
func (p *Polling) Start(onNotify func()) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.onNotify = onNotify
	p.timer = time.AfterFunc(p.interval, p.fire)

	return nil
}

func (p *Polling) fire() {
	p.mutex.Lock()
	if !p.running {
		p.mutex.Unlock()
		return
	}
	callback := p.onNotify
	p.timer = time.AfterFunc(p.interval, p.fire)
	p.mutex.Unlock()

	callback()
}

// Stop cancels the pending timer.
func (p *Polling) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.running {
		return
	}
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.onNotify = nil
}

// Notify invokes the callback immediately, ahead of the next poll.
func (p *Polling) Notify(eventID string) {
	p.mutex.Lock()
	callback := p.onNotify
	running := p.running
	p.mutex.Unlock()

	if !running || callback == nil {
		return
	}
	callback()
}
