package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/vpnadmin/internal/audit"
	"grimm.is/vpnadmin/internal/config"
	"grimm.is/vpnadmin/internal/logging"
	"grimm.is/vpnadmin/internal/metrics"
	"grimm.is/vpnadmin/internal/runner"
)

func TestAudit(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.On("/opt/src/delvpnuser.sh", "erin").Return(runner.Result{}, nil)
	f.runner.On("iptables", "-D", "INPUT", "1").Return(runner.Result{}, nil)

	require.Equal(t, http.StatusOK, f.do(t, "DELETE", "/users/erin", nil, adminKey).Code)
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/iptables/remove", `{"chain":"INPUT","ruleNumber":1}`, adminKey).Code)

	rec := f.do(t, "GET", "/audit", nil, readerKey)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]audit.Event](t, rec)
	require.Len(t, events, 2)
	assert.Equal(t, "firewall.remove", events[0].Action)
	assert.Equal(t, "INPUT", events[0].Details["chain"])
	assert.Equal(t, "user.delete", events[1].Action)
	assert.Equal(t, "/users/erin", events[1].Resource)

	rec = f.do(t, "GET", "/audit?action=user.delete&limit=5", nil, readerKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]audit.Event](t, rec), 1)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/audit?limit=zero", nil, readerKey).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/audit?since=yesterday", nil, readerKey).Code)
}

func TestAudit_ReadsAreNotAudited(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, "GET", "/users", nil, adminKey)

	n, err := f.audit.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAudit_Disabled(t *testing.T) {
	cfg := config.Default()
	off := false
	cfg.API.RequireAuth = &off
	srv, err := NewServer(ServerOptions{
		Config:  cfg,
		Logger:  logging.Discard(),
		Metrics: metrics.New(),
		Runner:  &runner.Mock{},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/audit", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
