// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

// Package util provides wire-encoding helpers and an opt-in logging facility
// shared by the cemi and knxnet packages.
package util

import "fmt"

// Logger is satisfied by anything capable of formatted output, notably
// *log.Logger.
type Logger interface {
	Printf(format string, v ...interface{})
}

var logger Logger

// SetLogger installs l as the destination for library log output. Passing
// nil (the default) silences logging entirely; a library consumer that never
// calls SetLogger sees no output at all.
func SetLogger(l Logger) {
	logger = l
}

// Log writes a formatted message prefixed with the dynamic type of owner, if
// a logger has been installed. It is a no-op otherwise.
func Log(owner interface{}, format string, v ...interface{}) {
	if logger == nil {
		return
	}

	logger.Printf("%T: %s", owner, fmt.Sprintf(format, v...))
}
