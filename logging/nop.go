package logging

// nopLogger satisfies Logger without performing any work.
type nopLogger struct {
	category string
}

// Nop returns a Logger that discards everything, scoped to category.
func Nop(category string) Logger {
	return &nopLogger{category: category}
}

// Named returns a fresh stub for the narrower category; the receiver is never
// returned so callers can rely on the category of what they get back.
func (n *nopLogger) Named(category string) Logger {
	return &nopLogger{category: joinCategory(n.category, category)}
}

func (n *nopLogger) With(...interface{}) Logger {
	return &nopLogger{category: n.category}
}

func (n *nopLogger) Category() string { return n.category }

func (*nopLogger) Enabled(Level) bool { return false }
func (*nopLogger) Log(Level, string, ...interface{}) {}
func (*nopLogger) Debugw(string, ...interface{}) {}
func (*nopLogger) Infow(string, ...interface{}) {}
func (*nopLogger) Warnw(string, ...interface{}) {}
func (*nopLogger) Errorw(string, ...interface{}) {}
func (*nopLogger) Sync() error { return nil }

// IsNop reports whether l is the no-op variant.
func IsNop(l Logger) bool {
	_, ok := l.(*nopLogger)
	return ok
}
