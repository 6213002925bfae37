package processmanager

import (
	"context"
	stderrors "errors"

	"github.com/godbus/dbus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/process"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

const (
	destBus      = "org.freedesktop.systemd1"
	objectPath   = dbus.ObjectPath("/org/freedesktop/systemd1")
	getMethod    = "org.freedesktop.DBus.Properties.Get"
	managerIface = "org.freedesktop.systemd1.Manager"
	unitIface    = "org.freedesktop.systemd1.Unit"

	jobModeReplace = "replace"
)

// busCaller performs one method call against the systemd destination
type busCaller interface {
	Call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) (*dbus.Call, error)
}

// DBusManager talks to the systemd manager directly. Journal reads still go
// through journalctl since the journal has no D-Bus API.
type DBusManager struct {
	bus     busCaller
	journal Journal
	logger  logging.Logger
	tracer  trace.Tracer
}

func NewDBusManager(config Config, journal Journal, logger logging.Logger) *DBusManager {
	return newDBusManager(&connBus{userScope: config.IsUserScope()}, journal, logger)
}

func newDBusManager(bus busCaller, journal Journal, logger logging.Logger) *DBusManager {
	return &DBusManager{
		bus:     bus,
		journal: journal,
		logger:  logger,
		tracer:  otel.Tracer("github.com/core-tools/hsu-unitwatch/pkg/processmanager"),
	}
}

// isMethodError reports whether systemd answered the call with an error
// reply, as opposed to the call not reaching systemd at all
func isMethodError(err error) (dbus.Error, bool) {
	var dbusErr dbus.Error
	if stderrors.As(err, &dbusErr) {
		return dbusErr, true
	}
	return dbus.Error{}, false
}

func (m *DBusManager) call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) (*dbus.Call, error) {
	ctx, span := m.tracer.Start(ctx, "dbus.Call", trace.WithAttributes(
		attribute.String("dbus.method", method),
		attribute.String("dbus.path", string(path)),
	))
	defer span.End()

	call, err := m.bus.Call(ctx, path, method, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return call, err
}

func (m *DBusManager) IsActive(ctx context.Context, name unit.Name) (string, error) {
	call, err := m.call(ctx, objectPath, managerIface+".LoadUnit", string(name))
	if err != nil {
		if _, ok := isMethodError(err); ok {
			m.logger.Debugf("LoadUnit refused, unit: %s, error: %v", name, err)
			return "", nil
		}
		return "", errors.NewQueryError("is-active query failed", err).WithContext("unit", string(name))
	}

	var path dbus.ObjectPath
	if err := call.Store(&path); err != nil {
		return "", errors.NewQueryError("malformed LoadUnit reply", err).WithContext("unit", string(name))
	}

	call, err = m.call(ctx, path, getMethod, unitIface, "ActiveState")
	if err != nil {
		if _, ok := isMethodError(err); ok {
			return "", nil
		}
		return "", errors.NewQueryError("is-active query failed", err).WithContext("unit", string(name))
	}

	var value dbus.Variant
	if err := call.Store(&value); err != nil {
		return "", errors.NewQueryError("malformed ActiveState reply", err).WithContext("unit", string(name))
	}

	state, _ := value.Value().(string)
	return state, nil
}

func (m *DBusManager) IsEnabled(ctx context.Context, name unit.Name) (string, error) {
	call, err := m.call(ctx, objectPath, managerIface+".GetUnitFileState", string(name))
	if err != nil {
		if _, ok := isMethodError(err); ok {
			m.logger.Debugf("GetUnitFileState refused, unit: %s, error: %v", name, err)
			return "", nil
		}
		return "", errors.NewQueryError("is-enabled query failed", err).WithContext("unit", string(name))
	}

	var state string
	if err := call.Store(&state); err != nil {
		return "", errors.NewQueryError("malformed GetUnitFileState reply", err).WithContext("unit", string(name))
	}
	return state, nil
}

func (m *DBusManager) Invoke(ctx context.Context, action unit.Action, name unit.Name) (Invocation, error) {
	var err error
	switch action {
	case unit.ActionStart:
		_, err = m.call(ctx, objectPath, managerIface+".StartUnit", string(name), jobModeReplace)
	case unit.ActionStop:
		_, err = m.call(ctx, objectPath, managerIface+".StopUnit", string(name), jobModeReplace)
	case unit.ActionRestart:
		_, err = m.call(ctx, objectPath, managerIface+".RestartUnit", string(name), jobModeReplace)
	case unit.ActionEnable:
		// files, runtime, force
		_, err = m.call(ctx, objectPath, managerIface+".EnableUnitFiles", []string{string(name)}, false, false)
		if err == nil {
			_, err = m.call(ctx, objectPath, managerIface+".Reload")
		}
	case unit.ActionDisable:
		// files, runtime
		_, err = m.call(ctx, objectPath, managerIface+".DisableUnitFiles", []string{string(name)}, false)
		if err == nil {
			_, err = m.call(ctx, objectPath, managerIface+".Reload")
		}
	default:
		return Invocation{}, errors.NewValidationError("unknown action: "+string(action), nil)
	}

	if err != nil {
		if dbusErr, ok := isMethodError(err); ok {
			return Invocation{ExitCode: 1, Stderr: dbusErr.Error()}, nil
		}
		return Invocation{}, errors.NewActionError(string(action)+" could not be executed", err).WithContext("unit", string(name))
	}
	return Invocation{ExitCode: 0}, nil
}

func (m *DBusManager) Logs(ctx context.Context, name unit.Name, lines int) (process.Result, error) {
	return m.journal.Logs(ctx, name, lines)
}

// connBus uses the shared session (user scope) or system bus connection
type connBus struct {
	userScope bool
}

func (b *connBus) conn() (*dbus.Conn, error) {
	if b.userScope {
		return dbus.SessionBus()
	}
	return dbus.SystemBus()
}

func (b *connBus) Call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) (*dbus.Call, error) {
	conn, err := b.conn()
	if err != nil {
		return nil, errors.NewIOError("failed to connect to bus", err)
	}

	call := conn.Object(destBus, path).Go(method, 0, nil, args...)
	select {
	case <-call.Done:
		return call, call.Err
	case <-ctx.Done():
		// the reply, if any, is dropped by the buffered Done channel
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.NewTimeoutError("bus call timed out", ctx.Err()).WithContext("method", method)
		}
		return nil, errors.NewCancelledError("bus call cancelled", ctx.Err()).WithContext("method", method)
	}
}
