package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/vpnadmin/internal/audit"
	"grimm.is/vpnadmin/internal/capability"
	"grimm.is/vpnadmin/internal/config"
	"grimm.is/vpnadmin/internal/health"
	"grimm.is/vpnadmin/internal/journal"
	"grimm.is/vpnadmin/internal/runner"
)

const ipsecStatus = `Security Associations (2 up, 0 connecting):
 l2tp-psk[3]: ESTABLISHED 5 minutes ago, 10.0.0.1[10.0.0.1]...203.0.113.7[203.0.113.7]
 ikev2-cp[4]: ESTABLISHED 2 minutes ago, 10.0.0.1[vpn.example.com]...198.51.100.2[client]
`

func expectProbes(m *runner.Mock, xl2tpd string) {
	state := func(s string) runner.Result {
		if s == "active" {
			return runner.Result{Stdout: "active\n"}
		}
		return runner.Result{ExitCode: 3, Stdout: s + "\n"}
	}
	m.On("systemctl", "is-active", "strongswan").Return(state("active"), nil)
	m.On("systemctl", "is-active", "xl2tpd").Return(state(xl2tpd), nil)
	m.On("systemctl", "is-active", "ipsec").Return(state("active"), nil)
	m.On("uptime", "-p").Return(runner.Result{Stdout: "up 3 days, 2 hours\n"}, nil)
	m.On("ipsec", "status").Return(runner.Result{Stdout: ipsecStatus}, nil)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)
	expectProbes(f.runner, "active")

	rec := f.do(t, "GET", "/status", nil, readerKey)
	require.Equal(t, http.StatusOK, rec.Code)

	snap := decode[health.Snapshot](t, rec)
	assert.True(t, snap.Running)
	assert.Equal(t, map[string]bool{"strongswan": true, "xl2tpd": true, "ipsec": true}, snap.Services)
	assert.Equal(t, 2, snap.ActiveConnections)
	assert.Equal(t, "up 3 days, 2 hours", snap.Uptime)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestStatus_CoreServiceDown(t *testing.T) {
	f := newFixture(t, nil)
	expectProbes(f.runner, "failed")

	snap := decode[health.Snapshot](t, f.do(t, "GET", "/api/status", nil, readerKey))
	assert.False(t, snap.Running)
	assert.False(t, snap.Services["xl2tpd"])
}

func TestRestart(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Runner.UseSudo = true })
	f.runner.On("sudo", "-n", "systemctl", "restart", "strongswan", "xl2tpd").Return(runner.Result{}, nil)

	rec := f.do(t, "POST", "/restart", nil, adminKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Services restarted successfully", decode[messageResponse](t, rec).Message)
	f.runner.AssertExpectations(t)
}

func TestRestart_Failure(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.On("systemctl", "restart", "strongswan", "xl2tpd").
		Return(runner.Result{ExitCode: 1, Stderr: "Failed to restart xl2tpd.service: Access denied\n"}, nil)

	rec := f.do(t, "POST", "/restart", nil, adminKey)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to restart xl2tpd.service: Access denied\n", decode[ErrorResponse](t, rec).Error)
}

func TestLogs(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.On("journalctl", "-u", "xl2tpd", "-n", "5", "-o", "json", "--no-pager").
		Return(runner.Result{Stdout: `{"__REALTIME_TIMESTAMP":"1700000000000000","PRIORITY":"6","MESSAGE":"Connection established"}` + "\n"}, nil)

	rec := f.do(t, "GET", "/logs?service=xl2tpd&lines=5", nil, readerKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entries := decode[[]journal.Entry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "Connection established", entries[0].Message)
	assert.Equal(t, "xl2tpd", entries[0].Service)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/logs", nil, readerKey).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/logs?service=sshd", nil, readerKey).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/logs?service=xl2tpd&lines=-1", nil, readerKey).Code)
}

func TestExecute(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.On("ipsec", "status").Return(runner.Result{Stdout: "no SAs\n"}, nil)

	rec := f.do(t, "POST", "/execute", executeRequest{Command: "ipsec-status"}, adminKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[executeResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "no SAs\n", resp.Output)
	assert.Empty(t, resp.Error)

	events, err := f.audit.Query(audit.Filter{Action: "execute"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ipsec-status", events[0].Details["command"])
	assert.Equal(t, false, events[0].Details["sudo"])
}

func TestExecute_TimeoutLogged(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.On("ipsec", "status").Return(runner.Result{}, runner.ErrTimeout)

	req := httptest.NewRequest("POST", "/execute", strings.NewReader(`{"command":"ipsec-status"}`))
	req.Header.Set("Authorization", "Bearer "+adminKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "3f1c2a9e-8d7b-4c6a-9e5f-0a1b2c3d4e5f")
	req.RemoteAddr = "203.0.113.7:40000"
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	logs := f.logs.String()
	for _, want := range []string{"request failed", "kind=timeout", "path=/execute", "request_id=3f1c2a9e-8d7b-4c6a-9e5f-0a1b2c3d4e5f", "ip=203.0.113.7"} {
		assert.Contains(t, logs, want)
	}
}

func TestExecute_NonZeroExit(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.On("ping", "-c", "1", "192.0.2.1").
		Return(runner.Result{ExitCode: 1, Stdout: "1 packets transmitted, 0 received\n", Stderr: "timeout\n"}, nil)

	rec := f.do(t, "POST", "/execute", executeRequest{Command: "ping 192.0.2.1"}, adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[executeResponse](t, rec)
	assert.Equal(t, executeResponse{
		Success: false,
		Output:  "1 packets transmitted, 0 received\n",
		Error:   "timeout\n",
	}, resp)
}

func TestExecute_Rejected(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, "POST", "/execute", executeRequest{Command: "rm -rf /"}, adminKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "POST", "/execute", executeRequest{Command: "ping", Args: []string{"--flood"}}, adminKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "POST", "/execute", map[string]string{}, adminKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Command is required", decode[ErrorResponse](t, rec).Error)

	// read:* does not grant execute.
	rec = f.do(t, "POST", "/execute", executeRequest{Command: "ipsec-status"}, readerKey)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListCommands(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, "GET", "/execute", nil, adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	caps := decode[[]capability.Capability](t, rec)
	require.Len(t, caps, 2)
	assert.Equal(t, "ipsec-status", caps[0].Name)
	assert.Equal(t, "IPsec SAs", caps[0].Description)
	assert.NotContains(t, rec.Body.String(), `"path"`)
}
