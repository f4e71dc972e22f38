// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import "time"

// GetMillis is a convenience method to get milliseconds since epoch.
func GetMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// GetMillisAtTime returns milliseconds since epoch for the given time.
func GetMillisAtTime(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// TimeFromMillis converts time in milliseconds to time.Time.
func TimeFromMillis(millis int64) time.Time {
	return time.Unix(0, millis*int64(time.Millisecond))
}

// RFC3339FromMillis formats milliseconds since epoch as an RFC-3339 UTC
// timestamp, the format required on the CloudEvents envelope.
func RFC3339FromMillis(millis int64) string {
	return TimeFromMillis(millis).UTC().Format(time.RFC3339)
}
