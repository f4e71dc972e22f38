// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"errors"
)

// ErrInvalidInput indicates that the caller supplied input the bus cannot
// act on: a missing required field, a malformed cron expression, or
// mutually exclusive fields supplied together. Wrap it with pkg/errors to
// carry detail; callers test with errors.Is.
var ErrInvalidInput = errors.New("invalid input")

// IsInvalidInput reports whether err originates from input validation.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
