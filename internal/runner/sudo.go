package runner

import "context"

// Sudo runs every command through sudo in non-interactive mode.
type Sudo struct {
	Next Runner
	Path string
}

// Run prefixes the command with "sudo -n".
func (s Sudo) Run(ctx context.Context, name string, args ...string) (Result, error) {
	path := s.Path
	if path == "" {
		path = "sudo"
	}
	argv := make([]string, 0, len(args)+2)
	argv = append(argv, "-n", name)
	argv = append(argv, args...)
	return s.Next.Run(ctx, path, argv...)
}

// Elevate wraps r with Sudo when enabled.
func Elevate(r Runner, enabled bool, sudoPath string) Runner {
	if !enabled {
		return r
	}
	return Sudo{Next: r, Path: sudoPath}
}
