package logging

import (
	"net"
	"strings"
	"testing"
	"time"
)

func TestDefaultSyslogConfig(t *testing.T) {
	cfg := DefaultSyslogConfig()

	if cfg.Enabled {
		t.Error("Default should be disabled")
	}
	if cfg.Port != 514 {
		t.Errorf("Expected port 514, got %d", cfg.Port)
	}
	if cfg.Protocol != "udp" {
		t.Errorf("Expected protocol udp, got %s", cfg.Protocol)
	}
	if cfg.Tag != "vpnadmin" {
		t.Errorf("Expected tag vpnadmin, got %s", cfg.Tag)
	}
}

func TestNewSyslogWriter_MissingHost(t *testing.T) {
	if _, err := NewSyslogWriter(SyslogConfig{Enabled: true}); err == nil {
		t.Error("Expected error for missing host")
	}
}

func TestSyslogWriter_SendsPriority(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp listen unavailable: %v", err)
	}
	defer pc.Close()

	addr := pc.LocalAddr().(*net.UDPAddr)
	w, err := NewSyslogWriter(SyslogConfig{Host: "127.0.0.1", Port: addr.Port, Facility: 1})
	if err != nil {
		t.Fatalf("NewSyslogWriter: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("[warn] health: probe failed\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 1024)
	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	msg := string(buf[:n])
	// facility 1 * 8 + warning 4
	if !strings.HasPrefix(msg, "<12>") {
		t.Errorf("unexpected priority in %q", msg)
	}
	if !strings.Contains(msg, "vpnadmin: [warn] health: probe failed") {
		t.Errorf("unexpected payload %q", msg)
	}
}

func TestSeverityOf(t *testing.T) {
	cases := map[string]int{
		"[error] x": 3,
		"[warn] x":  4,
		"[info] x":  6,
		"[debug] x": 7,
	}
	for in, want := range cases {
		if got := severityOf([]byte(in)); got != want {
			t.Errorf("severityOf(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestSyslogConfig_AddrIPv6(t *testing.T) {
	cfg := SyslogConfig{Host: "::1", Port: 514}
	if got := cfg.Addr(); got != "[::1]:514" {
		t.Errorf("Addr() = %q, want [::1]:514", got)
	}
	cfg.Host = "logs.example.com"
	if got := cfg.Addr(); got != "logs.example.com:514" {
		t.Errorf("Addr() = %q", got)
	}
}

func TestSyslogWriter_IPv6(t *testing.T) {
	pc, err := net.ListenPacket("udp6", "[::1]:0")
	if err != nil {
		t.Skipf("ipv6 loopback unavailable: %v", err)
	}
	defer pc.Close()

	w, err := NewSyslogWriter(SyslogConfig{Host: "::1", Port: pc.LocalAddr().(*net.UDPAddr).Port, Facility: 1})
	if err != nil {
		t.Fatalf("NewSyslogWriter: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("[info] api: started\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 1024)
	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if !strings.HasPrefix(string(buf[:n]), "<14>") {
		t.Errorf("unexpected message %q", buf[:n])
	}
}

func TestSyslogWriter_WriteAfterClose(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp listen unavailable: %v", err)
	}
	defer pc.Close()

	w, err := NewSyslogWriter(SyslogConfig{Host: "127.0.0.1", Port: pc.LocalAddr().(*net.UDPAddr).Port})
	if err != nil {
		t.Fatalf("NewSyslogWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := w.Write([]byte("late")); err == nil {
		t.Error("expected error writing to a closed writer")
	}
}
