// Logging and progress output.
// Diagnostics go through logrus on stderr; the short "✓ wrote ..." lines
// go to stdout only when results are written to files.
package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"
	"github.com/sirupsen/logrus"
)

// log is the process-wide logger. Silent mode raises it to errors only.
var log = newLogger(os.Stderr)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// setVerbosity maps the -silent and -verbose flags to a log level.
// Silent wins when both are given.
func setVerbosity(l *logrus.Logger, silent, verbose bool) {
	switch {
	case silent:
		l.SetLevel(logrus.ErrorLevel)
	case verbose:
		l.SetLevel(logrus.DebugLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
}

// progressOut receives progress lines. It stays io.Discard when stdout
// carries content (-stdout) or in silent mode.
var progressOut io.Writer = io.Discard

var progressMu sync.Mutex

// pprintf writes a formatted progress line to progressOut.
func pprintf(format string, args ...any) {
	progressMu.Lock()
	defer progressMu.Unlock()
	fmt.Fprintf(progressOut, format, args...)
}

// displayWidth is the column budget for titles and URLs in progress lines.
const displayWidth = 60

// shortURL returns host + path without the scheme, truncated to
// displayWidth terminal columns.
func shortURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return truncateDisplay(rawURL)
	}
	display := strings.TrimSuffix(u.Host+u.Path, "/")
	return truncateDisplay(display)
}

// truncateDisplay cuts s to displayWidth columns, counting wide runes
// (CJK, emoji) as two.
func truncateDisplay(s string) string {
	return runewidth.Truncate(s, displayWidth, "...")
}
