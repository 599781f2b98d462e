package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	golog "github.com/op/go-logging"
)

const format = `%{time:2006-01-02 15:04:05} %{level:.5s} [%{module}] %{message}`

// Logger is the leveled logger every package obtains through Get.
type Logger = golog.Logger

// Get returns the module logger for a package.
func Get(module string) *Logger {
	return golog.MustGetLogger(module)
}

// InitLogger receives the log level as a string ("DEBUG", "INFO", "WARNING",
// "ERROR"), parses it and installs a leveled stdout backend for every module.
// An invalid level string returns an error and leaves the backend untouched.
func InitLogger(logLevel string) error {
	return InitLoggerTo(os.Stdout, logLevel)
}

// InitLoggerTo is InitLogger with an explicit writer, used by tests.
func InitLoggerTo(w io.Writer, logLevel string) error {
	level, err := golog.LogLevel(strings.ToUpper(strings.TrimSpace(logLevel)))
	if err != nil {
		return err
	}

	baseBackend := golog.NewLogBackend(w, "", 0)
	backendFormatter := golog.NewBackendFormatter(baseBackend, golog.MustStringFormatter(format))

	backendLeveled := golog.AddModuleLevel(backendFormatter)
	backendLeveled.SetLevel(level, "")

	golog.SetBackend(backendLeveled)
	return nil
}

// CronLogger adapts a go-logging logger to the robfig/cron Logger interface.
type CronLogger struct {
	Log *Logger
}

// Info logs a cron informational message with its key/value pairs.
func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.Log.Debugf("%s %s", msg, formatKV(keysAndValues))
}

// Error logs a cron error, typically a recovered job panic.
func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.Log.Errorf("%s: %v %s", msg, err, formatKV(keysAndValues))
}

func formatKV(kv []interface{}) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(toString(kv[i]))
		b.WriteByte('=')
		b.WriteString(toString(kv[i+1]))
	}
	return b.String()
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
