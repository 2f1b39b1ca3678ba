package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
)

// GracefulServer wraps a grpc.Server serving the control service with
// graceful shutdown support.
type GracefulServer struct {
	grpcServer *grpc.Server
	logger     Logger
	address    string
	listener   net.Listener
	mu         sync.Mutex
	isShutdown bool
}

// NewGracefulServer creates a server for control on address. ServerOptions
// are applied before opts.
func NewGracefulServer(control ControlServiceServer, address string, logger Logger, opts ...grpc.ServerOption) *GracefulServer {
	all := append(ServerOptions(logger), opts...)
	grpcServer := grpc.NewServer(all...)
	RegisterControlServer(grpcServer, control)

	return &GracefulServer{
		grpcServer: grpcServer,
		logger:     logger,
		address:    address,
	}
}

func (s *GracefulServer) listen() (net.Listener, error) {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()
	return lis, nil
}

// Start serves until ctx is cancelled, then stops gracefully.
func (s *GracefulServer) Start(ctx context.Context) error {
	errCh, err := s.StartBackground()
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		s.logger.Info("grpc_graceful_shutdown_initiated",
			"reason", ctx.Err().Error(),
		)
		s.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// StartBackground starts serving in a goroutine. The returned channel
// receives a serve error, if any, and is closed when serving ends.
func (s *GracefulServer) StartBackground() (<-chan error, error) {
	lis, err := s.listen()
	if err != nil {
		return nil, err
	}

	s.logger.Info("grpc_server_started",
		"address", lis.Addr().String(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// GracefulStop stops accepting new calls and waits for running ones.
func (s *GracefulServer) GracefulStop() {
	s.mu.Lock()
	if s.isShutdown {
		s.mu.Unlock()
		return
	}
	s.isShutdown = true
	s.mu.Unlock()

	s.logger.Info("grpc_graceful_stop_started")
	s.grpcServer.GracefulStop()
	s.logger.Info("grpc_graceful_stop_completed")
}

// ShutdownWithTimeout stops gracefully, forcing an immediate stop if
// running calls outlast timeout.
func (s *GracefulServer) ShutdownWithTimeout(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("grpc_graceful_shutdown_timeout",
			"timeout_ms", timeout.Milliseconds(),
		)
		s.grpcServer.Stop()
	}
}

// Address returns the bound address once listening, else the configured one.
func (s *GracefulServer) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}
