// Package users manages VPN users. A user exists when a credential bundle
// named <username><suffix> is present in the credential directory; nothing
// else is persisted. Provisioning is delegated to the host's VPN scripts.
package users

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"grimm.is/vpnadmin/internal/errors"
	"grimm.is/vpnadmin/internal/logging"
	"grimm.is/vpnadmin/internal/metrics"
	"grimm.is/vpnadmin/internal/runner"
)

// ConfigsPrefix is the URL prefix under which artifacts are downloaded.
const ConfigsPrefix = "/configs/"

// ArtifactSuffixes are the downloadable artifact types, in response order.
var ArtifactSuffixes = []string{".p12", ".sswan", ".mobileconfig"}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// User is a VPN user derived from a credential bundle.
type User struct {
	Username string  `json:"username"`
	Configs  Configs `json:"configs"`
}

// Configs are the download paths of a user's client artifacts.
type Configs struct {
	P12          string `json:"p12"`
	Sswan        string `json:"sswan"`
	Mobileconfig string `json:"mobileconfig"`
}

// NewUser templates the artifact paths for username.
func NewUser(username string) User {
	return User{
		Username: username,
		Configs: Configs{
			P12:          ConfigsPrefix + username + ".p12",
			Sswan:        ConfigsPrefix + username + ".sswan",
			Mobileconfig: ConfigsPrefix + username + ".mobileconfig",
		},
	}
}

// Options configures a Manager.
type Options struct {
	CredentialDir string
	BundleSuffix  string
	AddScript     string
	DelScript     string
	IKEv2Script   string
}

// Manager lists and provisions users.
type Manager struct {
	opts    Options
	runner  runner.Runner
	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewManager creates a Manager. The runner is used for the provisioning
// scripts and should carry privilege elevation when configured.
func NewManager(opts Options, r runner.Runner, logger *logging.Logger, m *metrics.Registry) *Manager {
	if opts.BundleSuffix == "" {
		opts.BundleSuffix = ".p12"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		opts:    opts,
		runner:  r,
		logger:  logger.WithComponent("users"),
		metrics: m,
	}
}

// List returns one User per credential bundle, in directory listing order.
func (m *Manager) List() ([]User, error) {
	entries, err := os.ReadDir(m.opts.CredentialDir)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "read credential directory")
	}

	users := make([]User, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasSuffix(name, m.opts.BundleSuffix) {
			continue
		}
		username := strings.TrimSuffix(name, m.opts.BundleSuffix)
		if username == "" {
			continue
		}
		users = append(users, NewUser(username))
	}

	if m.metrics != nil {
		m.metrics.Users.Set(float64(len(users)))
	}
	return users, nil
}

// ValidateUsername rejects names the provisioning scripts cannot take safely.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return errors.Newf(errors.KindValidation, "invalid username %q", username)
	}
	return nil
}

// Add provisions a new user.
func (m *Manager) Add(ctx context.Context, username, password string) (string, error) {
	if err := ValidateUsername(username); err != nil {
		return "", err
	}
	if password == "" {
		return "", errors.New(errors.KindValidation, "password is required")
	}
	out, err := m.script(ctx, "add user", m.opts.AddScript, username, password)
	if err == nil {
		m.logger.Info("user added", "username", username)
	}
	return out, err
}

// Update re-runs the add script with a new password. The script is
// idempotent, so a user without a bundle is provisioned from scratch.
func (m *Manager) Update(ctx context.Context, username, password string) (string, error) {
	if err := ValidateUsername(username); err != nil {
		return "", err
	}
	if password == "" {
		return "", errors.New(errors.KindValidation, "password is required")
	}
	existed := m.exists(username)
	out, err := m.script(ctx, "update user", m.opts.AddScript, username, password)
	if err == nil {
		m.logger.Info("user updated", "username", username, "existed", existed)
	}
	return out, err
}

// Delete removes a user.
func (m *Manager) Delete(ctx context.Context, username string) (string, error) {
	if err := ValidateUsername(username); err != nil {
		return "", err
	}
	out, err := m.script(ctx, "delete user", m.opts.DelScript, username)
	if err == nil {
		m.logger.Info("user deleted", "username", username)
	}
	return out, err
}

// ReloadIKEv2 regenerates the IKEv2 configuration.
func (m *Manager) ReloadIKEv2(ctx context.Context) (string, error) {
	return m.script(ctx, "reload ikev2", m.opts.IKEv2Script)
}

// Artifact resolves a download filename to a path in the credential
// directory.
func (m *Manager) Artifact(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.ContainsAny(filename, `/\`) || strings.HasPrefix(filename, ".") {
		return "", errors.Newf(errors.KindValidation, "invalid filename %q", filename)
	}

	known := false
	for _, s := range ArtifactSuffixes {
		if strings.HasSuffix(filename, s) && len(filename) > len(s) {
			known = true
			break
		}
	}
	if !known {
		return "", errors.Newf(errors.KindNotFound, "config %s not found", filename)
	}

	path := filepath.Join(m.opts.CredentialDir, filename)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", errors.Newf(errors.KindNotFound, "config %s not found", filename)
	}
	return path, nil
}

func (m *Manager) exists(username string) bool {
	info, err := os.Stat(filepath.Join(m.opts.CredentialDir, username+m.opts.BundleSuffix))
	return err == nil && info.Mode().IsRegular()
}

// script runs a provisioning script and returns its stdout. A non-zero exit
// becomes an execution error carrying stderr verbatim.
func (m *Manager) script(ctx context.Context, op, path string, args ...string) (string, error) {
	if path == "" {
		return "", errors.Newf(errors.KindInternal, "%s: no script configured", op)
	}
	res, err := m.runner.Run(ctx, path, args...)
	if err != nil {
		return "", errors.Wrap(err, errors.KindOf(err), op)
	}
	if !res.OK() {
		m.logger.Warn("script failed", "op", op, "script", path, "exit", res.ExitCode)
		msg := res.Stderr
		if strings.TrimSpace(msg) == "" {
			msg = fmt.Sprintf("%s exited with status %d", filepath.Base(path), res.ExitCode)
		}
		return "", &errors.Error{Kind: errors.KindExecution, Op: op, Msg: msg}
	}
	return res.Stdout, nil
}
