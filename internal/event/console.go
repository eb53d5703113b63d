package event

import (
	"encoding/json"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// ANSI sequences for the human-readable latency highlight.
const (
	ansiOrange = "\x1b[38;5;208m"
	ansiReset  = "\x1b[0m"
)

var latencyRe = regexp.MustCompile(`("latency_ms"\s*:\s*)(\d+)`)

// ConsoleSink writes events as JSON lines, one object per line. With
// color enabled, integer latency_ms values are rendered as an orange
// "<n> ms" for humans tailing the stream. The rendering is display-only;
// events handed to the store keep the plain integer.
type ConsoleSink struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

// NewConsoleSink returns a sink writing to w, with color decided by the
// environment and whether w is a terminal.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w, color: colorEnabled(w)}
}

// NewConsoleSinkColor returns a sink with color forced on or off.
func NewConsoleSinkColor(w io.Writer, color bool) *ConsoleSink {
	return &ConsoleSink{w: w, color: color}
}

// Write renders ev as one line. Failures are dropped: event emission must
// never disturb call handling.
func (s *ConsoleSink) Write(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if s.color {
		data = latencyRe.ReplaceAll(data, []byte("${1}"+ansiOrange+"${2} ms"+ansiReset))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Write(data)
	s.w.Write([]byte{'\n'})
}

// colorEnabled applies NO_COLOR first, then FORCE_COLOR, then checks
// whether w is a terminal.
func colorEnabled(w io.Writer) bool {
	if envTruthy("NO_COLOR") {
		return false
	}
	if envTruthy("FORCE_COLOR") {
		return true
	}
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func envTruthy(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes":
		return true
	}
	return false
}
