package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/vpnadmin/internal/firewall"
	"grimm.is/vpnadmin/internal/runner"
)

const inputListing = `Chain INPUT (policy ACCEPT)
num  target     prot opt source               destination
1    ACCEPT     udp  --  0.0.0.0/0            0.0.0.0/0            udp dpt:500
2    ACCEPT     udp  --  0.0.0.0/0            0.0.0.0/0            udp dpt:4500
`

func TestListRules(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.On("iptables", "-L", "-n", "--line-numbers").Return(runner.Result{Stdout: inputListing}, nil)

	rec := f.do(t, "GET", "/iptables/list", nil, readerKey)
	require.Equal(t, http.StatusOK, rec.Code)

	rules := decode[[]firewall.Rule](t, rec)
	require.Len(t, rules, 2)
	assert.Equal(t, "INPUT-2", rules[0].ID)
	assert.Equal(t, "INPUT", rules[0].Chain)
	assert.True(t, rules[0].Enabled)
	assert.Equal(t, 2, rules[1].Position)
	assert.Len(t, rules[1].Fingerprint, 16)
}

func TestListRules_Empty(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.On("iptables", "-L", "-n", "--line-numbers").Return(runner.Result{}, nil)

	rec := f.do(t, "GET", "/iptables/list", nil, readerKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAddRule(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.On("iptables", "-A", "INPUT", "-p", "udp", "--dport", "500", "-j", "ACCEPT").Return(runner.Result{}, nil)

	rec := f.do(t, "POST", "/iptables/add", addRuleRequest{Chain: "INPUT", Rule: "-p udp --dport 500 -j ACCEPT"}, adminKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, resultResponse{Success: true, Message: "Rule added successfully"}, decode[resultResponse](t, rec))
	f.runner.AssertExpectations(t)
}

func TestAddRule_Validation(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, "POST", "/iptables/add", map[string]string{"chain": "INPUT"}, adminKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Chain and rule are required", decode[ErrorResponse](t, rec).Error)

	rec = f.do(t, "POST", "/iptables/add", addRuleRequest{Chain: "INPUT; reboot", Rule: "-j ACCEPT"}, adminKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "POST", "/iptables/add", addRuleRequest{Chain: "-F", Rule: "-j ACCEPT"}, adminKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddRule_IptablesRejects(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.On("iptables", "-A", "INPUT", "-j", "BOGUS").
		Return(runner.Result{ExitCode: 2, Stderr: "iptables v1.8.7 (nf_tables): Chain 'BOGUS' does not exist\n"}, nil)

	rec := f.do(t, "POST", "/iptables/add", addRuleRequest{Chain: "INPUT", Rule: "-j BOGUS"}, adminKey)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "iptables v1.8.7 (nf_tables): Chain 'BOGUS' does not exist\n", decode[ErrorResponse](t, rec).Error)
}

func TestRemoveRule_ByNumber(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.On("iptables", "-D", "INPUT", "3").Return(runner.Result{}, nil)

	// The dashboard sends the rule number as a string.
	rec := f.do(t, "POST", "/iptables/remove", `{"chain":"INPUT","ruleNumber":"3"}`, adminKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Rule removed successfully", decode[resultResponse](t, rec).Message)

	rec = f.do(t, "POST", "/iptables/remove", `{"chain":"INPUT","ruleNumber":3}`, adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	f.runner.AssertNumberOfCalls(t, "iptables", 2)
}

func TestRemoveRule_ByFingerprint(t *testing.T) {
	f := newFixture(t, nil)
	fp := firewall.Fingerprint("INPUT", "2    ACCEPT     udp  --  0.0.0.0/0            0.0.0.0/0            udp dpt:4500")
	f.runner.On("iptables", "-L", "INPUT", "-n", "--line-numbers").Return(runner.Result{Stdout: inputListing}, nil)
	f.runner.On("iptables", "-D", "INPUT", "2").Return(runner.Result{}, nil)

	rec := f.do(t, "POST", "/iptables/remove", removeRuleRequest{Chain: "INPUT", Fingerprint: fp}, adminKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	f.runner.AssertExpectations(t)
}

func TestRemoveRule_Validation(t *testing.T) {
	f := newFixture(t, nil)

	for _, body := range []string{
		`{"chain":"INPUT"}`,
		`{"ruleNumber":1}`,
		`{"chain":"INPUT","ruleNumber":0}`,
		`{"chain":"INPUT","ruleNumber":"abc"}`,
		`{"chain":"INPUT","fingerprint":"not-hex"}`,
	} {
		rec := f.do(t, "POST", "/iptables/remove", body, adminKey)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestRuleNum_UnmarshalJSON(t *testing.T) {
	var n ruleNum
	require.NoError(t, n.UnmarshalJSON([]byte(`"7"`)))
	assert.Equal(t, ruleNum(7), n)
	require.NoError(t, n.UnmarshalJSON([]byte(`12`)))
	assert.Equal(t, ruleNum(12), n)
	assert.Error(t, n.UnmarshalJSON([]byte(`"x"`)))
}
