// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package util holds small shared helpers for the sentinel engines:
// a generic overwrite-on-full ring buffer, timeout clamping, and a
// structured error type for failed external commands.
package util
