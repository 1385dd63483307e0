// Package files reads and writes host configuration files on behalf of the
// dashboard. Every path is checked against an allow-list of files and
// directories unless the gateway is configured as unrestricted.
package files

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/vpnadmin/internal/errors"
	"grimm.is/vpnadmin/internal/keylock"
	"grimm.is/vpnadmin/internal/logging"
)

const defaultMode fs.FileMode = 0o644

// Record is the content and metadata of a file.
type Record struct {
	Path         string    `json:"path"`
	Content      string    `json:"content"`
	Exists       bool      `json:"exists"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// Policy is the set of paths the gateway may touch.
type Policy struct {
	Files        []string
	Dirs         []string
	Unrestricted bool
}

// Gateway performs file operations for API callers.
type Gateway struct {
	policy Policy
	locks  *keylock.Map
	logger *logging.Logger
}

// NewGateway creates a Gateway enforcing policy.
func NewGateway(policy Policy, locks *keylock.Map, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.Default()
	}
	if locks == nil {
		locks = keylock.New()
	}
	g := &Gateway{
		locks:  locks,
		logger: logger.WithComponent("files"),
	}
	g.policy = Policy{Unrestricted: policy.Unrestricted}
	for _, f := range policy.Files {
		g.policy.Files = append(g.policy.Files, filepath.Clean(f))
	}
	for _, d := range policy.Dirs {
		g.policy.Dirs = append(g.policy.Dirs, filepath.Clean(d))
	}
	if policy.Unrestricted {
		g.logger.Warn("file access is unrestricted; any path writable by the gateway can be read, written and deleted")
	}
	return g
}

// Resolve cleans path and checks it against the policy. Paths admitted by a
// directory entry have their symlinks resolved, so a link inside an allowed
// directory cannot point outside it. Listed files are trusted as-is.
func (g *Gateway) Resolve(path string) (string, error) {
	if path == "" {
		return "", errors.New(errors.KindValidation, "path is required")
	}
	if !filepath.IsAbs(path) {
		return "", errors.Newf(errors.KindValidation, "path must be absolute: %s", path)
	}
	clean := filepath.Clean(path)
	if g.policy.Unrestricted {
		return clean, nil
	}
	if g.listedFile(clean) {
		return clean, nil
	}
	if !g.inDir(clean) {
		return "", errors.Newf(errors.KindForbidden, "access to %s is not allowed", clean)
	}
	if real, err := realPath(clean); err == nil && real != clean && !g.listedFile(real) && !g.inDir(real) {
		return "", errors.Newf(errors.KindForbidden, "access to %s is not allowed", clean)
	}
	return clean, nil
}

func (g *Gateway) listedFile(path string) bool {
	for _, f := range g.policy.Files {
		if path == f {
			return true
		}
	}
	return false
}

func (g *Gateway) inDir(path string) bool {
	for _, d := range g.policy.Dirs {
		if d == "/" || strings.HasPrefix(path, d+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// realPath resolves symlinks in path, or in its parent when path does not
// exist yet.
func realPath(path string) (string, error) {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real, nil
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(path))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(path)), nil
}

// Exists reports whether path exists. Errors other than not-found are
// returned.
func (g *Gateway) Exists(path string) (bool, error) {
	clean, err := g.Resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(clean)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, errors.Wrap(err, errors.KindInternal, "stat")
	}
}

// Read returns the content and metadata of path.
func (g *Gateway) Read(path string) (Record, error) {
	clean, err := g.Resolve(path)
	if err != nil {
		return Record{}, err
	}
	info, err := os.Stat(clean)
	if err != nil {
		return Record{}, fsError(err, "read", clean)
	}
	if info.IsDir() {
		return Record{}, errors.Newf(errors.KindValidation, "%s is a directory", clean)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return Record{}, fsError(err, "read", clean)
	}
	return Record{
		Path:         clean,
		Content:      string(data),
		Exists:       true,
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

// Write replaces the content of path, creating it if needed. When the file
// existed the unified diff against its previous content is returned.
func (g *Gateway) Write(path, content string) (string, error) {
	clean, err := g.Resolve(path)
	if err != nil {
		return "", err
	}
	unlock := g.locks.Lock(clean)
	defer unlock()

	old, readErr := os.ReadFile(clean)
	existed := readErr == nil

	if err := os.WriteFile(clean, []byte(content), defaultMode); err != nil {
		return "", fsError(err, "write", clean)
	}
	g.logger.Info("file written", "path", clean, "bytes", len(content))

	if !existed {
		return "", nil
	}
	return Diff(clean, string(old), content), nil
}

// Create writes content to path. With exclusive set an existing file is a
// conflict; otherwise Create behaves like Write.
func (g *Gateway) Create(path, content string, exclusive bool) error {
	if !exclusive {
		_, err := g.Write(path, content)
		return err
	}

	clean, err := g.Resolve(path)
	if err != nil {
		return err
	}
	unlock := g.locks.Lock(clean)
	defer unlock()

	f, err := os.OpenFile(clean, os.O_WRONLY|os.O_CREATE|os.O_EXCL, defaultMode)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return errors.Newf(errors.KindConflict, "%s already exists", clean)
		}
		return fsError(err, "create", clean)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fsError(err, "create", clean)
	}
	if err := f.Close(); err != nil {
		return fsError(err, "create", clean)
	}
	g.logger.Info("file created", "path", clean, "bytes", len(content))
	return nil
}

// Delete removes path.
func (g *Gateway) Delete(path string) error {
	clean, err := g.Resolve(path)
	if err != nil {
		return err
	}
	unlock := g.locks.Lock(clean)
	defer unlock()

	info, err := os.Lstat(clean)
	if err != nil {
		return fsError(err, "delete", clean)
	}
	if info.IsDir() {
		return errors.Newf(errors.KindValidation, "%s is a directory", clean)
	}
	if err := os.Remove(clean); err != nil {
		return fsError(err, "delete", clean)
	}
	g.logger.Info("file deleted", "path", clean)
	return nil
}

// Diff renders a unified diff between two versions of path.
func Diff(path, before, after string) string {
	if before == after {
		return ""
	}
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return out
}

func fsError(err error, op, path string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errors.Newf(errors.KindNotFound, "file not found: %s", path)
	}
	return errors.Wrap(err, errors.KindInternal, op)
}
