package firewall

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"grimm.is/vpnadmin/internal/errors"
)

// maxListingLine bounds one line of iptables output.
const maxListingLine = 1 << 20

var (
	chainPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)
	leadingNum   = regexp.MustCompile(`^(\d+)\s*`)
)

// Rule is one line of an iptables listing.
type Rule struct {
	ID          string `json:"id"`
	Chain       string `json:"chain"`
	Rule        string `json:"rule"`
	Enabled     bool   `json:"enabled"`
	Position    int    `json:"position"`
	Fingerprint string `json:"fingerprint"`
}

// Orphan is a rule line found before any chain header.
type Orphan struct {
	LineIndex int
	Text      string
}

// ParseListing parses `iptables -L -n --line-numbers` output. Rule IDs are
// "<chain>-<line index>" where the index is the 0-based line number in the
// whole output. Rule lines before the first "Chain" header belong to the
// chain "" and are returned as orphans as well. A line longer than 1 MiB
// fails the whole parse rather than truncating the listing.
func ParseListing(output string) ([]Rule, []Orphan, error) {
	rules := []Rule{}
	var orphans []Orphan

	chain := ""
	seenHeader := false
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), maxListingLine)
	for idx := 0; sc.Scan(); idx++ {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "Chain "):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				chain = fields[1]
				seenHeader = true
			}
		case len(line) > 0 && line[0] >= '0' && line[0] <= '9':
			text := strings.TrimSpace(line)
			r := Rule{
				ID:          chain + "-" + strconv.Itoa(idx),
				Chain:       chain,
				Rule:        text,
				Enabled:     true,
				Position:    position(text),
				Fingerprint: Fingerprint(chain, text),
			}
			rules = append(rules, r)
			if !seenHeader {
				orphans = append(orphans, Orphan{LineIndex: idx, Text: text})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, errors.Wrap(err, errors.KindExecution, "parse iptables listing")
	}
	return rules, orphans, nil
}

// Fingerprint hashes the chain and the rule text without its leading
// position, so the value is stable while other rules are inserted or removed.
func Fingerprint(chain, line string) string {
	body := normalize(leadingNum.ReplaceAllString(strings.TrimSpace(line), ""))
	sum := sha256.Sum256([]byte(chain + "\x00" + body))
	return hex.EncodeToString(sum[:8])
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func position(text string) int {
	m := leadingNum.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// ValidChain reports whether name is an acceptable chain name.
func ValidChain(name string) bool {
	return chainPattern.MatchString(name)
}
