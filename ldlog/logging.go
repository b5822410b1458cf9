// Package ldlog contains a logging abstraction that allows log output from the SDK to be filtered by
// level and redirected to any destination.
package ldlog

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"
)

// LogLevel describes one of the possible priorities of a log message.
type LogLevel int

const (
	// Debug is the least significant level. Debug messages are very detailed and are normally suppressed.
	Debug LogLevel = iota + 1
	// Info is the level for informational messages about normal SDK operation.
	Info
	// Warn is the level for messages about unexpected conditions that do not prevent the SDK from working.
	Warn
	// Error is the level for messages about unexpected conditions that may interfere with SDK operation.
	Error
	// None means no messages at all, of any level.
	None
)

// String returns the name of a log level, such as "INFO".
func (l LogLevel) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case None:
		return "NONE"
	}
	return fmt.Sprintf("LogLevel(%d)", l)
}

// BaseLogger is a generic logger interface, compatible with log.Logger, that Loggers sends its
// output to. SDK components do not use BaseLogger directly; they use the level-specific methods
// of Loggers.
type BaseLogger interface {
	// Println prints a line with the arguments separated by spaces, like fmt.Println.
	Println(values ...interface{})
	// Printf prints a formatted string, like fmt.Printf.
	Printf(format string, values ...interface{})
}

// Loggers is a configurable logging component with a separate log.Logger-compatible destination
// for each log level. The zero value is usable immediately and writes to os.Stderr, at a minimum
// level of Info.
//
// Loggers methods are safe to call concurrently. Its configuration methods (SetBaseLogger, etc.)
// are not, and should be called before the Loggers is in use.
type Loggers struct {
	minLevel     LogLevel
	baseLoggers  [4]BaseLogger
	prefix       string
	initialized  bool
	levelLoggers [4]levelLogger
}

type levelLogger struct {
	logger BaseLogger
	prefix string
}

// NewDefaultLoggers returns a Loggers instance in its default configuration: all levels from Info
// up are written to os.Stderr.
func NewDefaultLoggers() Loggers {
	return Loggers{}
}

// NewDisabledLoggers returns a Loggers instance that will never generate output.
func NewDisabledLoggers() Loggers {
	ret := Loggers{minLevel: None}
	ret.SetBaseLogger(log.New(ioutil.Discard, "", 0))
	return ret
}

// SetBaseLogger specifies the default destination for output at all levels that do not have their
// own destination set with SetBaseLoggerForLevel.
func (l *Loggers) SetBaseLogger(logger BaseLogger) {
	if logger != nil {
		for i := range l.baseLoggers {
			if l.baseLoggers[i] == nil {
				l.baseLoggers[i] = logger
			}
		}
		l.initialized = false
	}
}

// SetBaseLoggerForLevel specifies the destination for output at the given level.
func (l *Loggers) SetBaseLoggerForLevel(level LogLevel, logger BaseLogger) {
	if logger != nil && level >= Debug && level <= Error {
		l.baseLoggers[level-Debug] = logger
		l.initialized = false
	}
}

// SetPrefix specifies a string to prepend to all log messages, after the level name. This is
// used to distinguish output from different SDK components.
func (l *Loggers) SetPrefix(prefix string) {
	l.prefix = prefix
	l.initialized = false
}

// SetMinLevel specifies the lowest level of output to enable. Messages below this level are
// discarded.
func (l *Loggers) SetMinLevel(level LogLevel) {
	l.minLevel = level
	l.initialized = false
}

// GetMinLevel returns the minimum level of enabled output.
func (l *Loggers) GetMinLevel() LogLevel {
	if l.minLevel == 0 {
		return Info
	}
	return l.minLevel
}

// IsDebugEnabled returns true if debug-level output is enabled.
func (l *Loggers) IsDebugEnabled() bool {
	return l.GetMinLevel() <= Debug
}

func (l *Loggers) init() {
	if l.initialized {
		return
	}
	for level := Debug; level <= Error; level++ {
		logger := l.baseLoggers[level-Debug]
		if logger == nil {
			logger = log.New(os.Stderr, "", log.LstdFlags)
		}
		linePrefix := level.String() + ": "
		if l.prefix != "" {
			linePrefix += l.prefix + " "
		}
		l.levelLoggers[level-Debug] = levelLogger{logger: logger, prefix: linePrefix}
	}
	l.initialized = true
}

func (l *Loggers) logString(level LogLevel, s string) {
	if level < l.GetMinLevel() || level > Error {
		return
	}
	l.init()
	ll := l.levelLoggers[level-Debug]
	ll.logger.Println(ll.prefix + s)
}

// Debug writes a debug-level message, with Println semantics.
func (l *Loggers) Debug(values ...interface{}) { l.log(Debug, values...) }

// Debugf writes a debug-level message, with Printf semantics.
func (l *Loggers) Debugf(format string, values ...interface{}) { l.logf(Debug, format, values...) }

// Info writes an info-level message, with Println semantics.
func (l *Loggers) Info(values ...interface{}) { l.log(Info, values...) }

// Infof writes an info-level message, with Printf semantics.
func (l *Loggers) Infof(format string, values ...interface{}) { l.logf(Info, format, values...) }

// Warn writes a warn-level message, with Println semantics.
func (l *Loggers) Warn(values ...interface{}) { l.log(Warn, values...) }

// Warnf writes a warn-level message, with Printf semantics.
func (l *Loggers) Warnf(format string, values ...interface{}) { l.logf(Warn, format, values...) }

// Error writes an error-level message, with Println semantics.
func (l *Loggers) Error(values ...interface{}) { l.log(Error, values...) }

// Errorf writes an error-level message, with Printf semantics.
func (l *Loggers) Errorf(format string, values ...interface{}) { l.logf(Error, format, values...) }

func (l *Loggers) log(level LogLevel, values ...interface{}) {
	if level < l.GetMinLevel() {
		return
	}
	s := fmt.Sprintln(values...)
	l.logString(level, s[:len(s)-1]) // Sprintln appends a newline; the base logger adds its own
}

func (l *Loggers) logf(level LogLevel, format string, values ...interface{}) {
	if level < l.GetMinLevel() {
		return
	}
	l.logString(level, fmt.Sprintf(format, values...))
}
