package scanner

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner/toolexec"
)

func TestToolFailureReasons(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		err  error
		want scanning.ReasonCode
	}{
		{name: "missing", err: fmt.Errorf("%w: semgrep", toolexec.ErrToolNotFound), want: scanning.ReasonToolNotInstalled},
		{name: "timeout", err: fmt.Errorf("%w after 5m", toolexec.ErrTimeout), want: scanning.ReasonToolTimeout},
		{name: "exit", err: &toolexec.ExitError{Code: 2, Stderr: "bad flag"}, want: scanning.ReasonToolFailed},
		{name: "other", err: errors.New("fork failed"), want: scanning.ReasonToolFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ToolFailure("semgrep", tt.err, toolexec.Result{Started: now, Stopped: now.Add(time.Second)})
			assert.True(t, f.Diagnostic)
			assert.Equal(t, tt.want, f.Reason)
			assert.Equal(t, scanning.ToolOrchestrator, f.Tool)
			assert.NotEmpty(t, f.Title)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "漏洞", Truncate("漏洞扫描", 2))
}
