package voice

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// logContext carries the per-attempt correlation fields threaded into
// every log line (D2/A1), rather than relying on a global logger. It is
// constructed fresh for each attempt in run() and passed down explicitly, the Go
// shape of the original's ambient reactor Context.
type logContext struct {
	guildID   string
	attemptID string
}

// entry builds a *logrus.Entry tagged with this attempt's fields on the
// given base logger, used to derive the three logical channels
// (protocol.sender, protocol.receiver, driver).
func (c logContext) entry(base *logrus.Logger, channel string) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		"guild_id":   c.guildID,
		"attempt_id": c.attemptID,
		"channel":    channel,
	})
}

// tokenPattern matches a JSON "token" field value, the same shape the
// original's redaction regex targets.
var tokenPattern = regexp.MustCompile(`("token"\s*:\s*")[^"]*(")`)

// redact replaces any token value in a raw payload line before it is
// eligible for trace/debug logging (P7, spec.md §4.7).
func redact(line string) string {
	return tokenPattern.ReplaceAllString(line, "${1}REDACTED${2}")
}

// logPayload traces a raw wire frame on the given channel logger with
// its token redacted. Mirrors the teacher's Debugf("... %s", payload)
// call sites but never lets a raw token reach the sink.
func logPayload(entry *logrus.Entry, raw []byte) {
	entry.Trace(redact(string(raw)))
}

// SourceCodeHook prefixes every log message with its call site
// (file:line:function), adapted from the teacher package's logging
// hook. Unlike the teacher it is not installed globally via init(): a
// host wires it in explicitly with logrus.AddHook if it wants the
// behavior, so importing this package never mutates a logger it doesn't
// own.
type SourceCodeHook struct{}

func (SourceCodeHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (SourceCodeHook) Fire(e *logrus.Entry) error {
	file, function, line := findCaller(6)
	e.Message = fmt.Sprintf("%s:%d:%s() %s", file, line, function, e.Message)
	return nil
}

// findCaller walks the call stack, skipping the given number of frames
// plus any frame still inside logrus itself, and returns the basename of
// the first frame outside it. It takes one batch of program counters via
// runtime.Callers and walks the resulting runtime.Frames iterator rather
// than re-unwinding the stack one frame at a time with runtime.Caller,
// since that unwind cost is paid on every logged line.
func findCaller(skip int) (file, function string, line int) {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "sirupsen/logrus") {
			return basename(frame.File), frame.Function, frame.Line
		}
		if !more {
			return basename(frame.File), frame.Function, frame.Line
		}
	}
}

// basename trims a source path down to its last two path components
// (package dir + file), e.g. ".../voice/driver.go" rather than the full
// absolute build path.
func basename(path string) string {
	slashes := 0
	for i := len(path) - 1; i > 0; i-- {
		if path[i] == '/' {
			slashes++
			if slashes >= 2 {
				return path[i+1:]
			}
		}
	}
	return path
}
