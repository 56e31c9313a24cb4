// Package common provides the shared logging, path-access and validation
// utilities used across the switchyard gateway pipeline.
//
// The logging half of the package routes formatted log output to the right
// process stream: error-level entries go to stderr so supervisors and log
// collectors can treat them with priority, everything else goes to stdout.
// The split happens on the final formatted bytes, so it works unchanged with
// both the text and JSON logrus formatters.
//
// All gateway services log through the global Logger (or a ContextLogger
// derived from it) so that delivery attempts, scheduler claims and adapter
// lifecycles share one consistent field vocabulary: trace_id, tenant,
// integration, event_id.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter directs formatted log entries to stderr or stdout based on
// their level marker. It inspects the serialized entry for the logrus
// "level=error" token rather than hooking into the logger itself, which keeps
// it formatter-agnostic and allocation-free on the hot path.
//
// Container runtimes capture the two streams independently, so error output
// can feed alerting while informational output feeds regular aggregation.
//
// Example:
//
//	logger := logrus.New()
//	logger.SetOutput(&OutputSplitter{})
//	logger.Info("claimed scheduled batch")   // stdout
//	logger.Error("delivery store unreachable") // stderr
type OutputSplitter struct{}

// Write routes a single formatted entry. Entries containing "level=error" are
// written to stderr, all others to stdout. Errors from the underlying stream
// are returned as-is to satisfy the io.Writer contract.
//
// Safe for concurrent use: the method only reads p and writes to the
// process-wide streams, which serialize writes internally.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the process-global logger for the gateway. It is pre-wired with
// the OutputSplitter; formatter and level are set once at startup from the
// loaded configuration (text for development, JSON for production).
//
// Pipeline code should prefer ContextLogger / ServiceLogger wrappers so that
// tenant and trace fields are attached uniformly, but using Logger directly
// is fine for startup and shutdown paths.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}

// ConfigureLogger applies the loaded logging configuration to the global
// Logger. Unknown levels fall back to info; any format other than "json"
// selects the text formatter.
func ConfigureLogger(level, format string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	Logger.SetLevel(parsed)

	if format == "json" {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
