// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package notify

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Composite fans a single strategy surface out to several underlying
// strategies. Its usual shape is a push strategy backed by polling, so a
// lost push only delays delivery until the next poll.
type Composite struct {
	strategies []Strategy
	logger     logrus.FieldLogger
}

// Compose combines the given strategies into one.
func Compose(logger logrus.FieldLogger, strategies ...Strategy) *Composite {
	return &Composite{
		strategies: strategies,
		logger:     logger.WithField("notify", "composite"),
	}
}

// Start starts every strategy, unwinding the ones already started if any
// fails.
func (c *Composite) Start(onNotify func()) error {
	for i, strategy := range c.strategies {
		err := strategy.Start(onNotify)
		if err != nil {
			for j := i - 1; j >= 0; j-- {
				c.strategies[j].Stop()
			}
			return errors.Wrap(err, "failed to start notify strategy")
		}
	}

	return nil
}

// Stop stops every strategy.
func (c *Composite) Stop() {
	for _, strategy := range c.strategies {
		strategy.Stop()
	}
}

// Notify forwards the notification to every strategy.
func (c *Composite) Notify(eventID string) {
	for _, strategy := range c.strategies {
		strategy.Notify(eventID)
	}
}
