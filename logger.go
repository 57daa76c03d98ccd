package horstbeacon

import goLog "log"

type dummyLogger struct{}
type stdlibLogger struct{}

func (logger *dummyLogger) Logf(format string, a ...interface{}) {}

func (logger *stdlibLogger) Logf(format string, a ...interface{}) {
	goLog.Printf(format, a...)
}

var log Logger = &dummyLogger{}

// Logger is a pluggable sink for internal diagnostic messages. The default
// is a no-op; call EnableLogging or SetLogger to observe them.
type Logger interface {
	Logf(format string, a ...interface{})
}

// EnableLogging sends log output to the standard log package. For more
// flexibility, use SetLogger directly.
func EnableLogging() {
	SetLogger(&stdlibLogger{})
}

// SetLogger installs logger as the destination for internal diagnostics.
// Passing nil disables logging.
func SetLogger(logger Logger) {
	if logger == nil {
		log = &dummyLogger{}
		return
	}
	log = logger
}
