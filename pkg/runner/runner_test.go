package runner

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-unitwatch/pkg/config"
	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/process"
	"github.com/core-tools/hsu-unitwatch/pkg/processmanager"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

type staticManager struct {
	mutex   sync.Mutex
	active  string
	enabled string
}

func (m *staticManager) IsActive(ctx context.Context, name unit.Name) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.active, nil
}

func (m *staticManager) IsEnabled(ctx context.Context, name unit.Name) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.enabled, nil
}

func (m *staticManager) Invoke(ctx context.Context, action unit.Action, name unit.Name) (processmanager.Invocation, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if action == unit.ActionStop {
		m.active = "inactive"
	}
	return processmanager.Invocation{}, nil
}

func (m *staticManager) Logs(ctx context.Context, name unit.Name, lines int) (process.Result, error) {
	return process.Result{Stdout: "hello from the journal\n"}, nil
}

type syncBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.String()
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Unit.Name = "demo.service"
	cfg.Supervision.PollInterval = 50 * time.Millisecond
	cfg.Supervision.CommandTimeout = time.Second
	watch := false
	cfg.Supervision.WatchUnitFiles = &watch
	return cfg
}

func TestRun_ConsoleSession(t *testing.T) {
	in, input := io.Pipe()
	defer input.Close()
	out := &syncBuffer{}

	cfg := testConfig()
	cfg.Control.MetricsAddress = "127.0.0.1:0"

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), Options{
			Config:  cfg,
			Console: true,
			In:      in,
			Out:     out,
			Manager: &staticManager{active: "active", enabled: "enabled"},
		}, logging.Nop())
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "demo.service: active (enabled)")
	}, 2*time.Second, 10*time.Millisecond)

	_, err := io.WriteString(input, "stop\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "demo.service: inactive (enabled)")
	}, 2*time.Second, 10*time.Millisecond)

	_, err = io.WriteString(input, "logs\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "hello from the journal")
	}, 2*time.Second, 10*time.Millisecond)

	_, err = io.WriteString(input, "quit\n")
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after quit")
	}
}

func TestRun_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{
			Config:  testConfig(),
			Manager: &staticManager{active: "inactive", enabled: "disabled"},
		}, logging.Nop())
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Unit.Name = "-x"

	err := Run(context.Background(), Options{Config: cfg}, logging.Nop())
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))

	err = Run(context.Background(), Options{}, logging.Nop())
	assert.True(t, errors.IsConfigError(err))
}

func TestRun_UnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Backend.Type = "upstart"

	err := Run(context.Background(), Options{Config: cfg}, logging.Nop())
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
}

func TestValidateConfigFile(t *testing.T) {
	_, err := ValidateConfigFile(filepath.Join(t.TempDir(), "missing.yaml"), config.Overrides{})
	assert.True(t, errors.IsConfigError(err))

	cfg, err := ValidateConfigFile("", config.Overrides{Unit: "demo.service"})
	require.NoError(t, err)
	assert.Equal(t, unit.Name("demo.service"), cfg.Unit.Name)
}

func TestStopAll_ReverseOrderAndAggregation(t *testing.T) {
	var order []int
	stoppers := []func() error{
		func() error { order = append(order, 1); return errors.NewIOError("first", nil) },
		func() error { order = append(order, 2); return nil },
		func() error { order = append(order, 3); return errors.NewIOError("third", nil) },
	}

	err := stopAll(stoppers)
	require.Error(t, err)
	assert.Equal(t, []int{3, 2, 1}, order)

	collection, ok := err.(*errors.ErrorCollection)
	require.True(t, ok)
	assert.Len(t, collection.Errors, 2)

	assert.NoError(t, stopAll(nil))
}
