package bxfile

// logger.go: the pluggable logging hook both file layers expose for the
// handful of "best effort failed"/"recovery triggered" notices the
// engine raises on its own (free-page search exhaustion, area-manage
// table repair, a skipped vacuum row). Neither layer imports a
// structured-logging library itself, matching the teacher's own
// LoggerFunc/SetLogger shape (compat.go) rather than wiring zap/zerolog
// into a core storage path.

// LoggerFunc receives a log line at the given level (caller-defined
// scale; this package only ever logs at level 0, "notice").
type LoggerFunc func(level int, msg string, args ...any)

func noopLogger(level int, msg string, args ...any) {}

func (f *AreaFile) SetLogger(fn LoggerFunc) {
	if fn == nil {
		fn = noopLogger
	}
	f.logger = fn
}

func (f *BTreeFile) SetLogger(fn LoggerFunc) {
	if fn == nil {
		fn = noopLogger
	}
	f.logger = fn
}
