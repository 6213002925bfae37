package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
)

func startWatcher(t *testing.T, dir string) (*Watcher, *atomic.Int32) {
	t.Helper()
	var changes atomic.Int32
	w := New(Options{Unit: "demo.service", Dirs: []string{dir}, Debounce: 50 * time.Millisecond},
		func() { changes.Add(1) }, logging.Nop())
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w, &changes
}

func TestWatcher_UnitFileEdit(t *testing.T) {
	dir := t.TempDir()
	_, changes := startWatcher(t, dir)

	path := filepath.Join(dir, "demo.service")
	require.NoError(t, os.WriteFile(path, []byte("[Service]\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("[Service]\nExecStart=/bin/true\n"), 0o644))

	require.Eventually(t, func() bool { return changes.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	// bursts collapse into one call
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), changes.Load())
}

func TestWatcher_EnableSymlinkInNewWantsDir(t *testing.T) {
	dir := t.TempDir()
	unitPath := filepath.Join(dir, "demo.service")
	require.NoError(t, os.WriteFile(unitPath, []byte("[Service]\n"), 0o644))
	_, changes := startWatcher(t, dir)

	wants := filepath.Join(dir, "default.target.wants")
	require.NoError(t, os.Mkdir(wants, 0o755))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.Symlink(unitPath, filepath.Join(wants, "demo.service")))

	require.Eventually(t, func() bool { return changes.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresOtherUnits(t *testing.T) {
	dir := t.TempDir()
	_, changes := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.service"), []byte("x"), 0o644))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), changes.Load())
}

func TestWatcher_NoDirectories(t *testing.T) {
	w := New(Options{Unit: "demo.service", Dirs: []string{filepath.Join(t.TempDir(), "missing")}}, func() {}, logging.Nop())
	err := w.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsIOError(err))
	assert.NoError(t, w.Stop())
}

func TestWatchPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "default.target.wants"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "demo.service.d"), 0o755))

	assert.Equal(t, []string{dir, filepath.Join(dir, "default.target.wants")}, watchPaths(dir))
}

func TestDefaultUnitDirs(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/cfg")
	assert.Equal(t, []string{"/tmp/cfg/systemd/user"}, DefaultUnitDirs(true))
	assert.Equal(t, []string{"/etc/systemd/system"}, DefaultUnitDirs(false))
}
