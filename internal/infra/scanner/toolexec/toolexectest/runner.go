// Package toolexectest provides a testify mock of toolexec.Runner.
package toolexectest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/toolexec"
)

// Runner is a mock implementation of toolexec.Runner.
type Runner struct {
	mock.Mock
}

var _ toolexec.Runner = (*Runner)(nil)

func (m *Runner) Run(ctx context.Context, cmd toolexec.Command) (toolexec.Result, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0).(toolexec.Result), args.Error(1)
}

// Binary matches a command by the binary it runs.
func Binary(path string) any {
	return mock.MatchedBy(func(c toolexec.Command) bool { return c.Path == path })
}

// Output builds a Result with the given stdout.
func Output(stdout string) toolexec.Result {
	return toolexec.Result{Stdout: []byte(stdout)}
}
