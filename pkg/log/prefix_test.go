package log

import (
	"fmt"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

type recordingLog struct {
	logs.Log
	lines []string
}

func (r *recordingLog) Debugf(format string, a ...interface{}) {
	r.lines = append(r.lines, "D:"+fmt.Sprintf(format, a...))
}

func (r *recordingLog) Infof(format string, a ...interface{}) {
	r.lines = append(r.lines, "I:"+fmt.Sprintf(format, a...))
}

func (r *recordingLog) Warnf(format string, a ...interface{}) {
	r.lines = append(r.lines, "W:"+fmt.Sprintf(format, a...))
}

func (r *recordingLog) Errorf(format string, a ...interface{}) {
	r.lines = append(r.lines, "E:"+fmt.Sprintf(format, a...))
}

func TestPrefixLogger(t *testing.T) {
	rec := &recordingLog{}
	var l logs.Log = NewPrefixLogger(rec, "Monitor:")
	l.Infof("frame %v", 1)
	l.Errorf("oops")
	NewPrefixLoggerNoSpace(rec, "[x]").Warnf("w")
	require.Equal(t, []string{"I:Monitor: frame 1", "E:Monitor: oops", "W:[x]w"}, rec.lines)
}
