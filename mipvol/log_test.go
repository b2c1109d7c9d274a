package mipvol

import (
	"fmt"
	"strings"

	. "github.com/janelia-flyem/go/gocheck"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Logf(m ModeFlag, format string, args ...interface{}) {
	r.lines = append(r.lines, m.String()+" "+strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (r *recordingLogger) Shutdown() {}

func (s *MipSuite) TestParseLogMode(c *C) {
	for _, m := range []ModeFlag{DebugMode, InfoMode, WarningMode, ErrorMode, CriticalMode, SilentMode} {
		parsed, err := ParseLogMode(strings.ToUpper(m.String()))
		c.Assert(err, IsNil)
		c.Assert(parsed, Equals, m)
	}
	m, err := ParseLogMode("warn")
	c.Assert(err, IsNil)
	c.Assert(m, Equals, WarningMode)
	_, err = ParseLogMode("chatty")
	c.Assert(err, NotNil)
}

func (s *MipSuite) TestLogModeFilter(c *C) {
	saved, savedMode := logger, LogMode()
	defer func() {
		logger = saved
		SetLogMode(savedMode)
	}()
	rec := new(recordingLogger)
	logger = rec

	SetLogMode(WarningMode)
	Debugf("hidden %d\n", 1)
	Infof("hidden %d\n", 2)
	Warningf("shown %d\n", 3)
	Criticalf("shown %d\n", 4)
	NewTimeLog().Errorf("took")
	c.Assert(rec.lines, HasLen, 3)
	c.Assert(rec.lines[0], Equals, "warning shown 3")
	c.Assert(rec.lines[1], Equals, "critical shown 4")
	c.Assert(strings.HasPrefix(rec.lines[2], "error took: "), Equals, true)

	SetLogMode(SilentMode)
	Criticalf("dropped\n")
	c.Assert(rec.lines, HasLen, 3)
}
