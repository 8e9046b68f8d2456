package workers

import "estate_harvester/models"

// LogFunc writes a worker log line to the run ledger.
type LogFunc func(level models.LogLevel, source, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, source, message string) {}

// LedgerLogger adapts a ledger's Log method to a LogFunc. Lines are not
// tied to a run.
func LedgerLogger(log func(runID *string, level models.LogLevel, message, source string) error) LogFunc {
	return func(level models.LogLevel, source, message string) {
		_ = log(nil, level, message, source)
	}
}
