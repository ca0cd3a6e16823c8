package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/Ishiihara/chroma/config"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// AppServerParams configures NewAppServer.
type AppServerParams struct {
	Config   *config.Config
	Admin    Admin
	Ingester Ingester
	// Services are the health service names reported by the gRPC server.
	Services []string
	// GRPCListener overrides the listener opened from Config.Server.GRPCPort.
	GRPCListener net.Listener
	Logger       *slog.Logger
}

// AppServer manages the worker's network-facing servers: the gRPC health
// server and the debug HTTP server.
type AppServer struct {
	grpcLis    net.Listener
	grpcServer *GRPCServer
	debug      *DebugServer
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewAppServer creates and initializes a new application server.
func NewAppServer(p AppServerParams) (*AppServer, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}
	s := &AppServer{logger: logger.With("component", "AppServer")}

	lis := p.GRPCListener
	if lis == nil && cfg.Server.GRPCPort > 0 {
		addr := fmt.Sprintf(":%d", cfg.Server.GRPCPort)
		var err error
		lis, err = net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on gRPC port %s: %w", addr, err)
		}
	}
	if lis != nil {
		s.grpcLis = lis
		s.grpcServer = NewGRPCServer(logger, p.Services...)
	}
	if cfg.Debug.Enabled {
		s.debug = NewDebugServer(DebugServerParams{
			Config:   &cfg.Debug,
			Admin:    p.Admin,
			Ingester: p.Ingester,
			Logger:   logger,
		})
	}
	return s, nil
}

// GRPC returns the gRPC server, or nil when it is disabled.
func (s *AppServer) GRPC() *GRPCServer { return s.grpcServer }

// Start runs all configured servers in parallel. It blocks until all
// servers stop, either through Stop or because ctx is done.
func (s *AppServer) Start(ctx context.Context) error {
	if s.grpcServer == nil && s.debug == nil {
		s.logger.Error("No servers to start.")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	appCtx, cancel := context.WithCancel(gctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	if s.grpcServer != nil {
		g.Go(func() error {
			go func() {
				<-appCtx.Done()
				s.logger.Info("Context cancelled, stopping gRPC server...")
				s.grpcServer.Stop()
			}()
			return s.grpcServer.Start(s.grpcLis)
		})
	}
	if s.debug != nil {
		g.Go(func() error {
			go func() {
				<-appCtx.Done()
				s.debug.Stop()
			}()
			return s.debug.Start()
		})
	}

	s.logger.Info("Application server started. Waiting for servers to exit.")
	err := g.Wait()
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("A server has failed, initiating shutdown.", "error", err)
		return fmt.Errorf("server group failed: %w", err)
	}
	s.logger.Info("All servers have stopped gracefully.")
	return nil
}

// Stop gracefully shuts down all servers.
func (s *AppServer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
