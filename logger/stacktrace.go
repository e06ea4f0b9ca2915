package logger

import (
	"fmt"
	"runtime"
	"strings"
)

var levelRank = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
	"fatal": 4,
}

// CaptureStacktrace formats up to depth frames of the current goroutine,
// skipping the first skip frames. depth <= 0 caps at 32.
func CaptureStacktrace(skip, depth int) string {
	if depth <= 0 {
		depth = 32
	}
	pcs := make([]uintptr, depth*2)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return ""
	}

	frames := runtime.CallersFrames(pcs[:n])
	lines := make([]string, 0, depth)
	for len(lines) < depth {
		f, more := frames.Next()
		lines = append(lines, fmt.Sprintf("%s\n\t%s:%d", f.Function, f.File, f.Line))
		if !more {
			break
		}
	}
	return strings.Join(lines, "\n")
}

func shouldCaptureStacktrace(level string, cfg ManagerConfig) bool {
	if !cfg.EnableStacktrace {
		return false
	}
	return levelRank[level] >= levelRank[cfg.StacktraceLevel]
}
