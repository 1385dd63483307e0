package health

import (
	"context"
	"fmt"
	"strings"

	"grimm.is/vpnadmin/internal/errors"
	"grimm.is/vpnadmin/internal/runner"
)

// Restart restarts services with one systemctl call. r must carry privilege
// elevation when the gateway does not run as root.
func Restart(ctx context.Context, r runner.Runner, services []string) (string, error) {
	if len(services) == 0 {
		return "", errors.New(errors.KindValidation, "no services to restart")
	}
	res, err := r.Run(ctx, "systemctl", append([]string{"restart"}, services...)...)
	if err != nil {
		return "", errors.Wrap(err, errors.KindOf(err), "restart services")
	}
	if !res.OK() {
		msg := res.Stderr
		if strings.TrimSpace(msg) == "" {
			msg = fmt.Sprintf("systemctl exited with status %d", res.ExitCode)
		}
		return "", &errors.Error{Kind: errors.KindExecution, Op: "restart services", Msg: msg}
	}
	return res.Stdout, nil
}
