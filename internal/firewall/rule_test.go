package firewall

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/vpnadmin/internal/errors"
)

const sampleListing = `Chain INPUT (policy ACCEPT)
num  target     prot opt source               destination
1    ACCEPT     udp  --  0.0.0.0/0            0.0.0.0/0            udp dpt:500
2    ACCEPT     udp  --  0.0.0.0/0            0.0.0.0/0            udp dpt:4500

Chain FORWARD (policy DROP)
num  target     prot opt source               destination
1    ACCEPT     all  --  192.168.42.0/24      0.0.0.0/0

Chain OUTPUT (policy ACCEPT)
num  target     prot opt source               destination
`

func TestParseListing(t *testing.T) {
	rules, orphans, err := ParseListing(sampleListing)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Empty(t, orphans)

	assert.Equal(t, "INPUT-2", rules[0].ID)
	assert.Equal(t, "INPUT", rules[0].Chain)
	assert.Equal(t, 1, rules[0].Position)
	assert.True(t, rules[0].Enabled)
	assert.Contains(t, rules[0].Rule, "udp dpt:500")

	assert.Equal(t, "INPUT-3", rules[1].ID)
	assert.Equal(t, 2, rules[1].Position)

	assert.Equal(t, "FORWARD-7", rules[2].ID)
	assert.Equal(t, "FORWARD", rules[2].Chain)
	assert.Equal(t, 1, rules[2].Position)
}

func TestParseListing_TwoHeadersOneRuleEach(t *testing.T) {
	out := "Chain A (policy ACCEPT)\n1 x\nChain B (policy ACCEPT)\n1 y\n"
	rules, _, err := ParseListing(out)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "A", rules[0].Chain)
	assert.Equal(t, "1 x", rules[0].Rule)
	assert.Equal(t, "B", rules[1].Chain)
	assert.Equal(t, "1 y", rules[1].Rule)
}

func TestParseListing_RuleBeforeHeader(t *testing.T) {
	rules, orphans, err := ParseListing("1 ACCEPT all\nChain INPUT (policy ACCEPT)\n")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "", rules[0].Chain)
	assert.Equal(t, "-0", rules[0].ID)
	require.Len(t, orphans, 1)
	assert.Equal(t, 0, orphans[0].LineIndex)
}

func TestParseListing_Empty(t *testing.T) {
	rules, orphans, err := ParseListing("")
	require.NoError(t, err)
	assert.NotNil(t, rules)
	assert.Empty(t, rules)
	assert.Empty(t, orphans)
}

func TestParseListing_LineTooLong(t *testing.T) {
	out := "Chain INPUT (policy ACCEPT)\n1    ACCEPT all -- " + strings.Repeat("x", maxListingLine+1) + "\n"
	rules, _, err := ParseListing(out)
	require.Error(t, err)
	assert.Nil(t, rules)
	assert.Equal(t, errors.KindExecution, errors.KindOf(err))
}

func TestFingerprint_StableAcrossRenumbering(t *testing.T) {
	a := Fingerprint("INPUT", "2    ACCEPT     udp  --  0.0.0.0/0  0.0.0.0/0  udp dpt:4500")
	b := Fingerprint("INPUT", "1    ACCEPT     udp  --  0.0.0.0/0  0.0.0.0/0  udp dpt:4500")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	assert.NotEqual(t, a, Fingerprint("FORWARD", "1 ACCEPT udp -- 0.0.0.0/0 0.0.0.0/0 udp dpt:4500"))
	assert.NotEqual(t, a, Fingerprint("INPUT", "1 ACCEPT udp -- 0.0.0.0/0 0.0.0.0/0 udp dpt:500"))
}

func TestValidChain(t *testing.T) {
	for _, ok := range []string{"INPUT", "f2b-sshd", "DOCKER_USER", "my.chain"} {
		assert.True(t, ValidChain(ok), ok)
	}
	for _, bad := range []string{"", "-F", "IN PUT", "a;b", "$(x)"} {
		assert.False(t, ValidChain(bad), bad)
	}
}
