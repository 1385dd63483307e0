// Package capability holds the table of named commands callers may run
// through /execute. Only commands configured by the operator can be run;
// callers choose a name and optionally append arguments that each have to
// match the capability's pattern.
package capability

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/google/shlex"

	"grimm.is/vpnadmin/internal/errors"
	"grimm.is/vpnadmin/internal/logging"
	"grimm.is/vpnadmin/internal/runner"
)

// DefaultArgPattern admits plain words and paths and rejects anything
// starting with a dash.
const DefaultArgPattern = `^[A-Za-z0-9._:@/=,+][A-Za-z0-9._:@/=,+-]*$`

// Capability is a pre-approved command template.
type Capability struct {
	Name         string   `json:"name"`
	Path         string   `json:"-"`
	Args         []string `json:"-"`
	Description  string   `json:"description,omitempty"`
	MaxExtraArgs int      `json:"maxExtraArgs"`
	Sudo         bool     `json:"sudo"`

	argPattern *regexp.Regexp
}

// Spec describes a capability before compilation.
type Spec struct {
	Name         string
	Path         string
	Args         []string
	Description  string
	MaxExtraArgs int
	ArgPattern   string
	Sudo         bool
}

// Table is an immutable set of capabilities.
type Table struct {
	caps     map[string]*Capability
	plain    runner.Runner
	elevated runner.Runner
	logger   *logging.Logger
}

// NewTable compiles specs. plain runs capabilities as the gateway user,
// elevated runs the ones marked sudo.
func NewTable(specs []Spec, plain, elevated runner.Runner, logger *logging.Logger) (*Table, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if elevated == nil {
		elevated = plain
	}
	t := &Table{
		caps:     make(map[string]*Capability, len(specs)),
		plain:    plain,
		elevated: elevated,
		logger:   logger.WithComponent("capability"),
	}
	for _, s := range specs {
		if _, dup := t.caps[s.Name]; dup {
			return nil, fmt.Errorf("duplicate capability %q", s.Name)
		}
		pattern := s.ArgPattern
		if pattern == "" {
			pattern = DefaultArgPattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("capability %q: %w", s.Name, err)
		}
		t.caps[s.Name] = &Capability{
			Name:         s.Name,
			Path:         s.Path,
			Args:         append([]string(nil), s.Args...),
			Description:  s.Description,
			MaxExtraArgs: s.MaxExtraArgs,
			Sudo:         s.Sudo,
			argPattern:   re,
		}
	}
	return t, nil
}

// List returns the capabilities sorted by name.
func (t *Table) List() []Capability {
	out := make([]Capability, 0, len(t.caps))
	for _, c := range t.caps {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the named capability.
func (t *Table) Lookup(name string) (Capability, bool) {
	c, ok := t.caps[name]
	if !ok {
		return Capability{}, false
	}
	return *c, true
}

// Parse splits a command line into a capability name and extra arguments
// using shell-word rules. Extra args from the request body are appended.
func Parse(command string, extra []string) (string, []string, error) {
	tokens, err := shlex.Split(command)
	if err != nil {
		return "", nil, errors.Wrapf(err, errors.KindValidation, "parse command", "invalid command")
	}
	if len(tokens) == 0 {
		return "", nil, errors.New(errors.KindValidation, "command is required")
	}
	args := append(tokens[1:len(tokens):len(tokens)], extra...)
	return tokens[0], args, nil
}

// Run executes the named capability with the caller's extra arguments.
// A non-zero exit is returned in the Result, not as an error.
func (t *Table) Run(ctx context.Context, name string, extra []string) (runner.Result, error) {
	c, ok := t.caps[name]
	if !ok {
		return runner.Result{}, errors.Newf(errors.KindNotFound, "unknown command %q", name)
	}
	if len(extra) > c.MaxExtraArgs {
		return runner.Result{}, errors.Newf(errors.KindValidation,
			"command %q accepts at most %d extra arguments, got %d", name, c.MaxExtraArgs, len(extra))
	}
	for _, a := range extra {
		if !c.argPattern.MatchString(a) {
			return runner.Result{}, errors.Newf(errors.KindValidation, "argument %q rejected for command %q", a, name)
		}
	}

	argv := make([]string, 0, len(c.Args)+len(extra))
	argv = append(argv, c.Args...)
	argv = append(argv, extra...)

	r := t.plain
	if c.Sudo {
		r = t.elevated
	}
	t.logger.Info("running capability", "name", name, "extra_args", len(extra), "sudo", c.Sudo)
	res, err := r.Run(ctx, c.Path, argv...)
	if err != nil {
		return res, errors.Wrap(err, errors.KindOf(err), "execute "+name)
	}
	return res, nil
}
