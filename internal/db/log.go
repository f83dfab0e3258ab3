// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import "github.com/toeirei/keygate/internal/logging"

var debugEnabled bool

// SetDebug enables timing and migration logging for the storage layer.
// Disabled by default; the serve command wires it to the debug config.
func SetDebug(enabled bool) {
	debugEnabled = enabled
}

func dbLogf(format string, v ...any) {
	if debugEnabled {
		logging.Debugf(format, v...)
	}
}
