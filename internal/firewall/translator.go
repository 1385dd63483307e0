package firewall

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"grimm.is/vpnadmin/internal/errors"
	"grimm.is/vpnadmin/internal/keylock"
	"grimm.is/vpnadmin/internal/logging"
	"grimm.is/vpnadmin/internal/metrics"
	"grimm.is/vpnadmin/internal/runner"
)

// Options configures a Translator.
type Options struct {
	// Binary is the iptables executable. Default: iptables.
	Binary string
	// Locks serializes edits per chain. Pass the same Map across config
	// reloads so in-flight edits on the old generation still exclude new
	// ones. Default: a private Map.
	Locks  *keylock.Map
}

// Translator maps rule operations onto iptables invocations.
type Translator struct {
	binary  string
	runner  runner.Runner
	locks   *keylock.Map
	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewTranslator creates a Translator. r should elevate privileges when the
// gateway does not run as root.
func NewTranslator(opts Options, r runner.Runner, logger *logging.Logger, m *metrics.Registry) *Translator {
	if opts.Binary == "" {
		opts.Binary = "iptables"
	}
	if opts.Locks == nil {
		opts.Locks = keylock.New()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Translator{
		binary:  opts.Binary,
		runner:  r,
		locks:   opts.Locks,
		logger:  logger.WithComponent("firewall"),
		metrics: m,
	}
}

// List returns every rule of every chain in listing order.
func (t *Translator) List(ctx context.Context) ([]Rule, error) {
	res, err := t.run(ctx, "list rules", "-L", "-n", "--line-numbers")
	if err != nil {
		return nil, err
	}
	rules, orphans, err := ParseListing(res.Stdout)
	if err != nil {
		return nil, err
	}
	for _, o := range orphans {
		t.logger.Warn("rule line before any chain header", "line", o.LineIndex, "rule", o.Text)
	}
	return rules, nil
}

// Add appends a rule to chain. spec is tokenized with shell-word rules.
func (t *Translator) Add(ctx context.Context, chain, spec string) (err error) {
	if err := checkChain(chain); err != nil {
		return err
	}
	tokens, err := tokenize(spec)
	if err != nil {
		return err
	}

	unlock := t.locks.Lock(chain)
	defer unlock()
	defer func() { t.record(chain, "add", err) }()

	args := append([]string{"-A", chain}, tokens...)
	if _, err = t.run(ctx, "add rule", args...); err != nil {
		return err
	}
	t.logger.Info("rule added", "chain", chain, "rule", strings.Join(tokens, " "))
	return nil
}

// Remove deletes the rule at position in chain.
func (t *Translator) Remove(ctx context.Context, chain string, position int) error {
	if err := checkChain(chain); err != nil {
		return err
	}
	if position < 1 {
		return errors.Newf(errors.KindValidation, "rule number must be at least 1, got %d", position)
	}

	unlock := t.locks.Lock(chain)
	defer unlock()
	return t.remove(ctx, chain, position)
}

// RemoveByFingerprint deletes the rule in chain whose fingerprint matches,
// resolving its current position under the chain lock.
func (t *Translator) RemoveByFingerprint(ctx context.Context, chain, fingerprint string) error {
	if err := checkChain(chain); err != nil {
		return err
	}
	if fingerprint == "" {
		return errors.New(errors.KindValidation, "fingerprint is required")
	}

	unlock := t.locks.Lock(chain)
	defer unlock()

	res, err := t.run(ctx, "list chain", "-L", chain, "-n", "--line-numbers")
	if err != nil {
		return err
	}
	rules, _, err := ParseListing(res.Stdout)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if r.Chain == chain && r.Fingerprint == fingerprint {
			return t.remove(ctx, chain, r.Position)
		}
	}
	return errors.Newf(errors.KindNotFound, "no rule with fingerprint %s in chain %s", fingerprint, chain)
}

func (t *Translator) remove(ctx context.Context, chain string, position int) (err error) {
	defer func() { t.record(chain, "remove", err) }()

	if _, err = t.run(ctx, "remove rule", "-D", chain, strconv.Itoa(position)); err != nil {
		return err
	}
	t.logger.Info("rule removed", "chain", chain, "position", position)
	return nil
}

// run invokes iptables. A non-zero exit becomes an execution error whose
// message is stderr verbatim.
func (t *Translator) run(ctx context.Context, op string, args ...string) (runner.Result, error) {
	res, err := t.runner.Run(ctx, t.binary, args...)
	if err != nil {
		return res, errors.Wrap(err, errors.KindOf(err), op)
	}
	if !res.OK() {
		msg := res.Stderr
		if strings.TrimSpace(msg) == "" {
			msg = fmt.Sprintf("%s exited with status %d", t.binary, res.ExitCode)
		}
		return res, &errors.Error{Kind: errors.KindExecution, Op: op, Msg: msg}
	}
	return res, nil
}

func (t *Translator) record(chain, op string, err error) {
	if t.metrics != nil {
		t.metrics.RecordFirewallMutation(chain, op, err)
	}
}

func checkChain(chain string) error {
	if !ValidChain(chain) {
		return errors.Newf(errors.KindValidation, "invalid chain name %q", chain)
	}
	return nil
}

func tokenize(spec string) ([]string, error) {
	tokens, err := shlex.Split(spec)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "parse rule", "invalid rule spec")
	}
	if len(tokens) == 0 {
		return nil, errors.New(errors.KindValidation, "rule is required")
	}
	return tokens, nil
}
