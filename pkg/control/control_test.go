package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-unitwatch/pkg/domain"
	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(ServerOptions{}, "demo.service", logging.Nop())
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(server.Stop)
	return server
}

func TestStatusFollowsSnapshots(t *testing.T) {
	server := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, server.Address())
	require.NoError(t, err)
	defer conn.Close()

	gateway := NewGRPCClientGateway(conn, "demo.service", logging.Nop())

	status, err := gateway.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnknown, status)

	server.Handler().OnSnapshotChanged(unit.Snapshot{Active: true})
	status, err = gateway.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, status)

	server.Handler().OnSnapshotChanged(unit.Snapshot{Active: false, Enabled: true})
	status, err = gateway.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInactive, status)
}

func TestStatusForOtherUnit(t *testing.T) {
	server := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, server.Address())
	require.NoError(t, err)
	defer conn.Close()

	_, err = NewGRPCClientGateway(conn, "other.service", logging.Nop()).Status(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsQueryError(err))
}

func TestServer_DoubleStart(t *testing.T) {
	server := startServer(t)
	assert.True(t, errors.IsInternalError(server.Start(context.Background())))
}
