// Package logger is the run-wide logging facility for the backtest
// engine: every caught error, risk-gate denial diagnostic, and data-skip
// notice in this module goes through here rather than a package-local
// log.Logger, so a single -v flag controls verbosity across the whole
// run.
//
// Verbosity levels (in increasing order):
//
//	Error < Warn < Info < Debug < Trace
//
// Example usage:
//
//	logger.SetVerbosity(3) // Debug
//	logger.Infof("synthetic data provider enabled for %s", underlying)
//	logger.Debugf("spot lookup failed at %s: %v", ts, err)
package logger

import (
	"log"
	"os"
)

// Level represents a logging verbosity level.
// Higher values mean more verbose logging.
type Level int

const (
	Error Level = iota // Error logs hard failures the run cannot continue past for that unit of work.
	Warn               // Warn logs non-fatal conditions surfaced to the operator (a retried write that still failed, a degraded feed).
	Info               // Info logs high-level run progress (providers selected, run summary).
	Debug              // Debug logs per-bar data-skip and gate diagnostics.
	Trace              // Trace logs fine-grained per-quote/per-fill detail.
)

// current holds the active verbosity level.
// Only messages with level <= current are logged.
var current Level = Info

func init() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// SetVerbosity sets the global logging verbosity. Called once at
// startup from the parsed -v flag.
func SetVerbosity(v int) {
	current = Level(v)
}

func logf(l Level, prefix, format string, args ...any) {
	if current >= l {
		log.Printf(prefix+format, args...)
	}
}

// Errorf logs a hard failure: a configuration error, an invariant
// violation, or anything the caller treats as fatal.
func Errorf(format string, args ...any) {
	logf(Error, "[ERROR] ", format, args...)
}

// Warnf logs a non-fatal condition that still merits the operator's
// attention, per the error taxonomy's "caught, surfaced, run continues"
// category (a store write that failed even after its one retry, a
// degraded IV feed falling back to a stale proxy).
func Warnf(format string, args ...any) {
	logf(Warn, "[WARN]  ", format, args...)
}

// Infof logs a major run-lifecycle event: provider selection, run
// completion summary.
func Infof(format string, args ...any) {
	logf(Info, "[INFO]  ", format, args...)
}

// Debugf logs a per-bar diagnostic: a skipped quote lookup, a denied
// risk gate, a failed fill attempt.
func Debugf(format string, args ...any) {
	logf(Debug, "[DEBUG] ", format, args...)
}

// Tracef logs fine-grained detail below bar granularity (per-strike, per
// child-fill). Sparingly; high volume even on an RTH-only session.
func Tracef(format string, args ...any) {
	logf(Trace, "[TRACE] ", format, args...)
}
