package toolexec_test

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/toolexec"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

func lookSh(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func TestExecRunner(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	runner := toolexec.NewExecRunner(logger.Noop())
	ctx := context.Background()

	t.Run("success captures output", func(t *testing.T) {
		res, err := runner.Run(ctx, toolexec.Command{
			Path:    sh,
			Args:    []string{"-c", "echo out; echo err >&2"},
			Timeout: 5 * time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, "out\n", string(res.Stdout))
		assert.Equal(t, "err\n", string(res.Stderr))
		assert.Zero(t, res.ExitCode)
		assert.False(t, res.Started.IsZero())
		assert.GreaterOrEqual(t, res.Duration(), time.Duration(0))
	})

	t.Run("non-zero exit keeps stdout", func(t *testing.T) {
		res, err := runner.Run(ctx, toolexec.Command{
			Path:    sh,
			Args:    []string{"-c", `echo '{"results":[]}'; echo boom >&2; exit 3`},
			Timeout: 5 * time.Second,
		})
		var exitErr *toolexec.ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 3, exitErr.Code)
		assert.Equal(t, "boom", exitErr.Stderr)
		assert.Equal(t, 3, res.ExitCode)
		assert.JSONEq(t, `{"results":[]}`, string(res.Stdout))
	})

	t.Run("timeout", func(t *testing.T) {
		_, err := runner.Run(ctx, toolexec.Command{
			Path:    sh,
			Args:    []string{"-c", "sleep 5"},
			Timeout: 100 * time.Millisecond,
		})
		assert.ErrorIs(t, err, toolexec.ErrTimeout)
	})

	t.Run("working directory", func(t *testing.T) {
		dir := t.TempDir()
		res, err := runner.Run(ctx, toolexec.Command{Path: sh, Args: []string{"-c", "pwd"}, Dir: dir, Timeout: 5 * time.Second})
		require.NoError(t, err)
		assert.Contains(t, string(res.Stdout), dir)
	})
}

func TestExecRunnerToolNotFound(t *testing.T) {
	t.Parallel()
	runner := toolexec.NewExecRunner(logger.Noop())

	_, err := runner.Run(context.Background(), toolexec.Command{Path: "definitely-not-a-real-scanner-binary"})
	assert.True(t, errors.Is(err, toolexec.ErrToolNotFound))
}
