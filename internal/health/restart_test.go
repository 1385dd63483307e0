package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/vpnadmin/internal/errors"
	"grimm.is/vpnadmin/internal/runner"
)

func TestRestart(t *testing.T) {
	m := &runner.Mock{}
	m.On("systemctl", "restart", "strongswan", "xl2tpd").Return(runner.Result{}, nil)

	_, err := Restart(context.Background(), m, []string{"strongswan", "xl2tpd"})
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestRestart_Failure(t *testing.T) {
	m := &runner.Mock{}
	m.On("systemctl", "restart", "xl2tpd").
		Return(runner.Result{ExitCode: 5, Stderr: "Failed to restart xl2tpd.service: Unit xl2tpd.service not found.\n"}, nil)

	_, err := Restart(context.Background(), m, []string{"xl2tpd"})
	assert.Equal(t, errors.KindExecution, errors.KindOf(err))
	assert.Contains(t, errors.ClientMessage(err), "not found")

	_, err = Restart(context.Background(), m, nil)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}
