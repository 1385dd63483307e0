// Package journal reads recent systemd journal entries for a VPN service.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"grimm.is/vpnadmin/internal/errors"
	"grimm.is/vpnadmin/internal/logging"
	"grimm.is/vpnadmin/internal/runner"
)

const (
	DefaultLines = 100
	MaxLines     = 1000
)

// Entry is one journal record.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Service   string    `json:"service"`
	Message   string    `json:"message"`
}

// Reader runs journalctl.
type Reader struct {
	binary string
	runner runner.Runner
	logger *logging.Logger
}

// NewReader creates a Reader using the journalctl on PATH.
func NewReader(r runner.Runner, logger *logging.Logger) *Reader {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reader{binary: "journalctl", runner: r, logger: logger.WithComponent("journal")}
}

// Tail returns up to lines entries for the systemd unit service, oldest first.
func (j *Reader) Tail(ctx context.Context, service string, lines int) ([]Entry, error) {
	if lines <= 0 {
		lines = DefaultLines
	}
	if lines > MaxLines {
		lines = MaxLines
	}
	res, err := j.runner.Run(ctx, j.binary, "-u", service, "-n", strconv.Itoa(lines), "-o", "json", "--no-pager")
	if err != nil {
		return nil, errors.Wrap(err, errors.KindOf(err), "read journal")
	}
	if !res.OK() {
		return nil, &errors.Error{Kind: errors.KindExecution, Op: "read journal", Msg: res.Stderr}
	}
	return Parse(res.Stdout, service), nil
}

// Parse decodes `journalctl -o json` output. Lines that are not JSON objects
// are skipped.
func Parse(output, service string) []Entry {
	entries := []Entry{}
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		entries = append(entries, Entry{
			Timestamp: timestamp(raw["__REALTIME_TIMESTAMP"]),
			Level:     level(raw["PRIORITY"]),
			Service:   service,
			Message:   message(raw["MESSAGE"]),
		})
	}
	return entries
}

// timestamp converts journal microseconds since the epoch.
func timestamp(v any) time.Time {
	s, _ := v.(string)
	usec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMicro(usec).UTC()
}

// level maps a syslog priority to a log level name.
func level(v any) string {
	s, _ := v.(string)
	p, err := strconv.Atoi(s)
	if err != nil {
		return "info"
	}
	switch {
	case p <= 3:
		return "error"
	case p == 4:
		return "warn"
	case p == 7:
		return "debug"
	}
	return "info"
}

// message handles MESSAGE fields that journald emits as byte arrays when the
// text is not valid UTF-8.
func message(v any) string {
	switch m := v.(type) {
	case string:
		return m
	case []any:
		b := make([]byte, 0, len(m))
		for _, x := range m {
			if f, ok := x.(float64); ok {
				b = append(b, byte(f))
			}
		}
		return string(b)
	}
	return ""
}
