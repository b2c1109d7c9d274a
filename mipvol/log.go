package mipvol

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// ModeFlag is a logging severity.  Messages below the current mode are dropped.
type ModeFlag uint32

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

// modeNames holds the level names used in config files and as message prefixes.
var modeNames = [...]string{"debug", "info", "warning", "error", "critical", "silent"}

func (m ModeFlag) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint32(m))
}

// ParseLogMode returns the mode for a level name like "debug" or "warning".
func ParseLogMode(level string) (ModeFlag, error) {
	name := strings.ToLower(level)
	switch name {
	case "warn":
		return WarningMode, nil
	case "none":
		return SilentMode, nil
	}
	for m, n := range modeNames {
		if n == name {
			return ModeFlag(m), nil
		}
	}
	return InfoMode, fmt.Errorf("unknown logging level %q", level)
}

// Logger writes messages that passed the severity filter.
type Logger interface {
	Logf(mode ModeFlag, format string, args ...interface{})

	// Shutdown flushes and closes any log output.
	Shutdown()
}

var mode = uint32(InfoMode)

// SetLogMode sets the lowest severity that is logged.  SilentMode turns off all
// logging.
func SetLogMode(newMode ModeFlag) {
	atomic.StoreUint32(&mode, uint32(newMode))
}

// LogMode returns the lowest severity that is logged.
func LogMode() ModeFlag {
	return ModeFlag(atomic.LoadUint32(&mode))
}

func logf(m ModeFlag, format string, args []interface{}) {
	if m >= LogMode() && m < SilentMode {
		logger.Logf(m, format, args...)
	}
}

func Debugf(format string, args ...interface{})    { logf(DebugMode, format, args) }
func Infof(format string, args ...interface{})     { logf(InfoMode, format, args) }
func Warningf(format string, args ...interface{})  { logf(WarningMode, format, args) }
func Errorf(format string, args ...interface{})    { logf(ErrorMode, format, args) }
func Criticalf(format string, args ...interface{}) { logf(CriticalMode, format, args) }

// Shutdown closes any log file in use.
func Shutdown() {
	logger.Shutdown()
}

// TimeLog appends the time elapsed since its creation to each message.
//
//	tlog := NewTimeLog()
//	...
//	tlog.Infof("Wrote %d chunks", n)  // "Wrote 8 chunks: 1.2s"
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{time.Now()}
}

func (t TimeLog) logf(m ModeFlag, format string, args []interface{}) {
	logf(m, format+": %s\n", append(args, time.Since(t.start)))
}

func (t TimeLog) Debugf(format string, args ...interface{})   { t.logf(DebugMode, format, args) }
func (t TimeLog) Infof(format string, args ...interface{})    { t.logf(InfoMode, format, args) }
func (t TimeLog) Warningf(format string, args ...interface{}) { t.logf(WarningMode, format, args) }
func (t TimeLog) Errorf(format string, args ...interface{})   { t.logf(ErrorMode, format, args) }

// Elapsed returns the time since the TimeLog was created.
func (t TimeLog) Elapsed() time.Duration {
	return time.Since(t.start)
}
