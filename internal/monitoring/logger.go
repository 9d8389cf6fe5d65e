// Package monitoring provides the extraction pipeline's diagnostic
// logging hooks. Pipeline stages log through Stagef with a [Stage]
// prefix; tests and embedding applications can redirect or mute the
// output with SetLogger.
package monitoring

import (
	"log"
	"os"
)

// Logf is the package-level diagnostic logger. It defaults to a stderr
// logger with a "seedsig" prefix but may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.New(os.Stderr, "seedsig ", log.LstdFlags).Printf

// SetLogger replaces the package logger. Passing nil installs a no-op
// logger, silencing all pipeline diagnostics.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Stagef logs one pipeline stage message with a [stage] prefix.
func Stagef(stage, format string, v ...interface{}) {
	args := make([]interface{}, 0, len(v)+1)
	args = append(args, stage)
	args = append(args, v...)
	Logf("[%s] "+format, args...)
}
