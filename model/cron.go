// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron validates a standard 5-field cron expression (descriptors such
// as @hourly are accepted as well). Invalid expressions wrap
// ErrInvalidInput.
func ParseCron(expression string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidInput, "invalid cron expression %q: %s", expression, err)
	}
	return schedule, nil
}

// NextCronRunMillis computes the next fire time after now in epoch
// milliseconds, or 0 when the schedule yields no further runs.
func NextCronRunMillis(expression string, now time.Time) (int64, error) {
	schedule, err := ParseCron(expression)
	if err != nil {
		return 0, err
	}

	next := schedule.Next(now)
	if next.IsZero() {
		return 0, nil
	}
	return GetMillisAtTime(next), nil
}
