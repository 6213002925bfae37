//go:build !windows

package process

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cmd.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestRunner_CapturesOutputAndExitCode(t *testing.T) {
	script := writeScript(t, `echo "out:$1"; echo "err:$2" >&2; exit 3`)
	runner := NewRunner(RunnerOptions{Timeout: 5 * time.Second}, logging.Nop())

	result, err := runner.Run(context.Background(), Command{Path: script, Args: []string{"a b", "$HOME;ls"}})
	require.NoError(t, err)

	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "out:a b\n", result.Stdout)
	assert.Equal(t, "err:$HOME;ls\n", result.Stderr)
}

func TestRunner_Success(t *testing.T) {
	script := writeScript(t, `printf active`)
	runner := NewRunner(RunnerOptions{}, logging.Nop())

	result, err := runner.Run(context.Background(), Command{Path: script})
	require.NoError(t, err)
	assert.Equal(t, Result{ExitCode: 0, Stdout: "active"}, result)
}

func TestRunner_MissingExecutable(t *testing.T) {
	runner := NewRunner(RunnerOptions{}, logging.Nop())

	_, err := runner.Run(context.Background(), Command{Path: filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
	assert.True(t, errors.IsProcessError(err))
}

func TestRunner_Timeout(t *testing.T) {
	script := writeScript(t, `sleep 10`)
	runner := NewRunner(RunnerOptions{Timeout: 100 * time.Millisecond}, logging.Nop())

	start := time.Now()
	_, err := runner.Run(context.Background(), Command{Path: script})
	require.Error(t, err)
	assert.True(t, errors.IsTimeoutError(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunner_Cancelled(t *testing.T) {
	script := writeScript(t, `sleep 10`)
	runner := NewRunner(RunnerOptions{}, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := runner.Run(ctx, Command{Path: script})
	require.Error(t, err)
	assert.True(t, errors.IsCancelledError(err))
}

func TestRunner_EmptyPath(t *testing.T) {
	runner := NewRunner(RunnerOptions{}, logging.Nop())

	_, err := runner.Run(context.Background(), Command{})
	assert.True(t, errors.IsValidationError(err))
}
