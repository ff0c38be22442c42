/*
Package log provides structured logging for the component framework
using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
container- and schedule-scoped child loggers, configurable levels, and
helper functions for common logging patterns.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	log.Info("container started")

	containerLog := log.WithContainer("sensors")
	containerLog.Debug().Msg("loading declaration")

	scheduleLog := log.WithSchedule(id)
	scheduleLog.Trace().Msg("fired")

# Levels

Debug is for development/troubleshooting, Info is the default production
level, Warn/Error flag conditions worth investigating, and Fatal exits
the process after logging — use it only for unrecoverable startup
failures.
*/
package log
