package runner

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// Mock is a testify mock of Runner. The command name stands in for the
// method name, so expectations and call counts are keyed by binary:
//
//	m.On("iptables", "-D", "INPUT", "3").Return(runner.Result{}, nil)
type Mock struct {
	mock.Mock
}

func (m *Mock) Run(ctx context.Context, name string, args ...string) (Result, error) {
	callArgs := make([]interface{}, 0, len(args))
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	result := m.MethodCalled(name, callArgs...)
	res, _ := result.Get(0).(Result)
	return res, result.Error(1)
}
