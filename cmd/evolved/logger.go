package main

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// =============================================================================
// LEVELED LOGGER
// =============================================================================

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

// cliLogger satisfies the Logger interface every evolvecore package accepts.
// It writes plain stderr lines; structured backends belong to the services
// that scrape them, not to a single-host daemon.
type cliLogger struct {
	min int
	out *log.Logger
}

// newCLILogger builds a logger honoring the configured minimum level.
// Unknown level names fall back to INFO.
func newCLILogger(level string) *cliLogger {
	min := levelInfo
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		min = levelDebug
	case "INFO":
		min = levelInfo
	case "WARN", "WARNING":
		min = levelWarn
	case "ERROR":
		min = levelError
	}
	return &cliLogger{min: min, out: log.New(os.Stderr, "", log.LstdFlags)}
}

func (l *cliLogger) Debug(msg string, keysAndValues ...any) {
	l.write(levelDebug, "DEBUG", msg, keysAndValues)
}

func (l *cliLogger) Info(msg string, keysAndValues ...any) {
	l.write(levelInfo, "INFO", msg, keysAndValues)
}

func (l *cliLogger) Warn(msg string, keysAndValues ...any) {
	l.write(levelWarn, "WARN", msg, keysAndValues)
}

func (l *cliLogger) Error(msg string, keysAndValues ...any) {
	l.write(levelError, "ERROR", msg, keysAndValues)
}

func (l *cliLogger) write(level int, tag, msg string, keysAndValues []any) {
	if level < l.min {
		return
	}
	l.out.Printf("[%s] %s%s", tag, msg, formatKeyvals(keysAndValues))
}

// formatKeyvals renders alternating key/value pairs as " k=v" suffixes.
// A dangling key is printed without a value rather than dropped.
func formatKeyvals(keysAndValues []any) string {
	if len(keysAndValues) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
		} else {
			fmt.Fprintf(&b, " %v", keysAndValues[i])
		}
	}
	return b.String()
}
