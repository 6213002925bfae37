package control

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

type ServerOptions struct {
	// Port 0 picks a free port
	Port int
	// Host defaults to loopback; the probe is local only
	Host string
}

// Server hosts the health probe for one unit
type Server struct {
	options  ServerOptions
	logger   logging.Logger
	grpc     *grpc.Server
	handler  *HealthHandler
	listener net.Listener
	mutex    sync.Mutex
	wg       sync.WaitGroup
}

func NewServer(options ServerOptions, name unit.Name, logger logging.Logger) *Server {
	if options.Host == "" {
		options.Host = "127.0.0.1"
	}
	grpcServer := grpc.NewServer()
	return &Server{
		options: options,
		logger:  logger,
		grpc:    grpcServer,
		handler: RegisterGRPCServerHandler(grpcServer, name, logger),
	}
}

// Handler is the EventSink side of the server
func (s *Server) Handler() *HealthHandler {
	return s.handler
}

func (s *Server) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener != nil {
		return errors.NewInternalError("control server already started", nil)
	}

	address := net.JoinHostPort(s.options.Host, fmt.Sprint(s.options.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.NewIOError("failed to listen", err).WithContext("address", address)
	}
	s.listener = listener

	s.logger.Infof("Starting control server, address: %s", listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.grpc.Serve(listener); err != nil {
			s.logger.Errorf("Control server failed, error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Address() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() {
	s.mutex.Lock()
	started := s.listener != nil
	s.mutex.Unlock()

	if !started {
		return
	}

	s.logger.Infof("Stopping control server")
	s.handler.Shutdown()
	s.grpc.GracefulStop()
	s.wg.Wait()
}

// Dial connects to a control server on the local host
func Dial(ctx context.Context, address string) (*grpc.ClientConn, error) {
	conn, err := grpc.DialContext(ctx, address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.NewIOError("failed to connect to control server", err).WithContext("address", address)
	}
	return conn, nil
}
