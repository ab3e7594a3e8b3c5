package flogfs

// Logger is the narrow logging surface the core depends on. A *logrus.Logger
// satisfies it directly (its Debugf/Warnf/Errorf already match this
// signature), so callers that already use logrus elsewhere in their program
// wire it in for free; a nil Logger is a valid, silent no-op, which matters
// on the deeply embedded targets this format is designed for.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// nopLogger is used whenever a Filesystem is constructed without WithLogger.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

func (fs *Filesystem) logf() Logger {
	if fs.log == nil {
		return nopLogger{}
	}
	return fs.log
}
