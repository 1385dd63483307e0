package logging

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"grimm.is/vpnadmin/internal/brand"
)

const syslogDialTimeout = 5 * time.Second

// Syslog severities used for console levels.
const (
	severityError   = 3
	severityWarning = 4
	severityInfo    = 6
	severityDebug   = 7
)

// SyslogConfig holds remote syslog settings.
type SyslogConfig struct {
	Enabled  bool
	Host     string // hostname, IPv4 or IPv6 address
	Port     int    // default 514
	Protocol string // udp or tcp, default udp
	Tag      string // default brand.LowerName
	Facility int    // 1 = user
}

// DefaultSyslogConfig returns the defaults for a user-facility UDP sender.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Port:     514,
		Protocol: "udp",
		Tag:      brand.LowerName,
		Facility: 1,
	}
}

// Addr returns the dial address for the collector.
func (c SyslogConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SyslogWriter sends each written line to a remote collector in RFC 3164
// framing. A failed write redials once before giving up.
type SyslogWriter struct {
	cfg      SyslogConfig
	hostname string

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// NewSyslogWriter dials the collector described by cfg.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	if cfg.Host == "" {
		return nil, errors.New("syslog host is required")
	}
	def := DefaultSyslogConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Protocol == "" {
		cfg.Protocol = def.Protocol
	}
	if cfg.Tag == "" {
		cfg.Tag = def.Tag
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = brand.LowerName
	}

	w := &SyslogWriter{cfg: cfg, hostname: hostname}
	if err := w.dial(); err != nil {
		return nil, err
	}
	return w, nil
}

// dial replaces the connection. Callers hold w.mu or own w exclusively.
func (w *SyslogWriter) dial() error {
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	conn, err := net.DialTimeout(w.cfg.Protocol, w.cfg.Addr(), syslogDialTimeout)
	if err != nil {
		return fmt.Errorf("connect to syslog server %s: %w", w.cfg.Addr(), err)
	}
	w.conn = conn
	return nil
}

// Write sends p as one syslog message. The severity is taken from the
// console level tag in p.
func (w *SyslogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errors.New("syslog writer closed")
	}

	msg := fmt.Sprintf("<%d>%s %s %s: %s",
		w.cfg.Facility*8+severityOf(p),
		time.Now().Format(time.Stamp),
		w.hostname,
		w.cfg.Tag,
		p)

	if w.conn != nil {
		if _, err := io.WriteString(w.conn, msg); err == nil {
			return len(p), nil
		}
	}
	if err := w.dial(); err != nil {
		return 0, err
	}
	if _, err := io.WriteString(w.conn, msg); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the connection. Later writes fail.
func (w *SyslogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

func severityOf(p []byte) int {
	line := string(p)
	switch {
	case strings.Contains(line, "[error]"):
		return severityError
	case strings.Contains(line, "[warn]"):
		return severityWarning
	case strings.Contains(line, "[debug]"):
		return severityDebug
	}
	return severityInfo
}

// MultiWriter tees log output, typically to stderr and a SyslogWriter.
func MultiWriter(writers ...io.Writer) io.Writer {
	return io.MultiWriter(writers...)
}
