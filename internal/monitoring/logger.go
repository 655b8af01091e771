package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Report is the default error sink for trackers without an error hook. It
// receives the error message rather than the error value.
var Report func(msg string) = defaultReport

func defaultReport(msg string) {
	Logf("viewability error: %s", msg)
}

// SetReporter replaces the default error sink. Passing nil restores the
// logging sink.
func SetReporter(f func(msg string)) {
	if f == nil {
		Report = defaultReport
		return
	}
	Report = f
}
