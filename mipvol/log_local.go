package mipvol

import (
	"fmt"
	"log"
	"strings"

	"github.com/natefinch/lumberjack"
)

type stdLogger struct {
	*lumberjack.Logger
}

var logger Logger = stdLogger{}

// LogConfig is the [logging] section of a TOML configuration.
type LogConfig struct {
	Logfile string
	MaxSize int    `toml:"max_log_size"`
	MaxAge  int    `toml:"max_log_age"`
	Level   string `toml:"level"`
}

// SetLogger creates a logger that saves to a rotating log file and sets the
// logging level if one was given.
func (c *LogConfig) SetLogger() error {
	if c == nil {
		return nil
	}
	if c.Level != "" {
		m, err := ParseLogMode(c.Level)
		if err != nil {
			return err
		}
		SetLogMode(m)
	}
	if c.Logfile == "" {
		Infof("Sending log messages to stdout since no log file specified.\n")
		return nil
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize, // megabytes
		MaxAge:   c.MaxAge,  // days
	}
	log.SetOutput(l)
	logger = stdLogger{l}
	return nil
}

func (slog stdLogger) Logf(m ModeFlag, format string, args ...interface{}) {
	log.Printf("%8s "+format, append([]interface{}{strings.ToUpper(m.String())}, args...)...)
}

func (slog stdLogger) Shutdown() {
	if slog.Logger != nil {
		log.Printf("Closing log file...\n")
		slog.Close()
	}
}
