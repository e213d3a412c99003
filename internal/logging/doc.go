// Package logging constructs the slog loggers used throughout adweave and
// provides small attr helpers so call sites stay terse. Loggers are plain
// values threaded into components; there is no package-level logger.
package logging
