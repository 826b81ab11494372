// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import "time"

// EnforceMinTimeout returns the requested timeout, raised to minimum
// if it is lower. Zero and negative requests also get the minimum.
//
// Engines use this to stop a misconfigured zero timeout from turning
// every probe or step into an immediate deadline failure.
func EnforceMinTimeout(requested, minimum time.Duration) time.Duration {
	if requested < minimum {
		return minimum
	}
	return requested
}

// EnforceDefaultTimeout returns the requested timeout, or defaultVal
// when the request is zero or negative.
func EnforceDefaultTimeout(requested, defaultVal time.Duration) time.Duration {
	if requested <= 0 {
		return defaultVal
	}
	return requested
}
