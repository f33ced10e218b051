package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevoDB/flashkv/pkg/common/log"
	"github.com/KevoDB/flashkv/pkg/flash"
	"github.com/KevoDB/flashkv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DefaultMaxReadSize bounds a single Read so responses stay under the gRPC
// default message limit.
const DefaultMaxReadSize = 1 << 20

// Server serves a local flash.Device over gRPC. Calls are applied to the
// device one at a time.
type Server struct {
	dev      flash.Device
	geometry Geometry

	tlsConfig   *tls.Config
	maxReadSize uint32
	logger      log.Logger
	tel         telemetry.Telemetry

	mu       sync.Mutex // serializes device access
	stateMu  sync.Mutex
	server   *grpc.Server
	listener net.Listener
	started  bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerTLS enables TLS on the listener.
func WithServerTLS(cfg *tls.Config) ServerOption {
	return func(s *Server) {
		s.tlsConfig = cfg
	}
}

// WithMaxReadSize bounds the length of a single Read.
func WithMaxReadSize(n uint32) ServerOption {
	return func(s *Server) {
		s.maxReadSize = n
	}
}

// WithServerLogger sets the server logger.
func WithServerLogger(logger log.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithServerTelemetry records per-call metrics.
func WithServerTelemetry(tel telemetry.Telemetry) ServerOption {
	return func(s *Server) {
		s.tel = tel
	}
}

// NewServer creates a server for dev. The geometry is reported to clients
// as is; it must describe dev.
func NewServer(dev flash.Device, geometry Geometry, opts ...ServerOption) *Server {
	s := &Server{
		dev:         dev,
		geometry:    geometry,
		maxReadSize: DefaultMaxReadSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "remote-server")
	}
	if s.tel == nil {
		s.tel = telemetry.NewNoop()
	}
	return s
}

// Read implements DeviceServer.
func (s *Server) Read(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	addr, count, err := decodeRange(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if count > s.maxReadSize {
		return nil, status.Errorf(codes.ResourceExhausted, "read of %d bytes exceeds limit %d", count, s.maxReadSize)
	}

	buf := make([]byte, count)
	s.mu.Lock()
	err = s.dev.Read(addr, buf)
	s.mu.Unlock()
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(buf), nil
}

// Write implements DeviceServer.
func (s *Server) Write(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	addr, data, err := decodeWrite(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.mu.Lock()
	err = s.dev.Write(addr, data)
	s.mu.Unlock()
	if err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Erase implements DeviceServer.
func (s *Server) Erase(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	addr, count, err := decodeRange(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.mu.Lock()
	err = s.dev.Erase(addr, count)
	s.mu.Unlock()
	if err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Geometry implements DeviceServer.
func (s *Server) Geometry(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	return encodeGeometry(s.geometry), nil
}

// Register attaches the service to an existing gRPC server.
func (s *Server) Register(registrar grpc.ServiceRegistrar) {
	RegisterDeviceServer(registrar, s)
}

// Start listens on address and serves in the background.
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	if err := s.prepare(listener); err != nil {
		listener.Close()
		return err
	}

	go func() {
		if err := s.server.Serve(listener); err != nil {
			s.logger.Error("gRPC server error: %v", err)
		}
	}()

	s.logger.Info("Serving flash device on %s", listener.Addr())
	return nil
}

// Serve serves on listener and blocks until the server stops.
func (s *Server) Serve(listener net.Listener) error {
	if err := s.prepare(listener); err != nil {
		return err
	}
	s.logger.Info("Serving flash device on %s", listener.Addr())
	return s.server.Serve(listener)
}

func (s *Server) prepare(listener net.Listener) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.started {
		return fmt.Errorf("server already started")
	}

	serverOpts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 60 * time.Second,
			Time:              15 * time.Second,
			Timeout:           5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.UnaryInterceptor(s.intercept),
	}
	if s.tlsConfig != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(s.tlsConfig)))
	}

	s.server = grpc.NewServer(serverOpts...)
	s.Register(s.server)
	s.listener = listener
	s.started = true
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop drains in-flight calls and stops the server.
func (s *Server) Stop() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if !s.started {
		return
	}
	s.server.GracefulStop()
	s.started = false
}

func (s *Server) intercept(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	code := status.Code(err)
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRemote),
		attribute.String("rpc.method", info.FullMethod),
		attribute.String("rpc.grpc.status_code", code.String()),
	}
	telemetry.RecordDuration(ctx, s.tel, "flashkv.remote.server.duration", start, attrs...)
	s.tel.RecordCounter(ctx, "flashkv.remote.server.calls", 1, attrs...)

	if err != nil {
		s.logger.Debug("%s failed: %v", info.FullMethod, err)
	}
	return resp, err
}
