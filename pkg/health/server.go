// Package health serves the standard gRPC health service for the manager.
// Serving status follows a probe that is polled in the background.
package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

// ServiceName is the health service name reported alongside the overall status
const ServiceName = "arraysync.Manager"

// DefaultProbeInterval is how often the probe runs
const DefaultProbeInterval = 10 * time.Second

// Probe returns nil while the manager can do its work
type Probe func(ctx context.Context) error

// Server is a non-blocking gRPC server exposing grpc.health.v1
type Server struct {
	endpoint string
	probe    Probe
	interval time.Duration

	server   *grpc.Server
	listener net.Listener
	health   *health.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server for endpoint, which is "tcp://host:port",
// "unix:///path" or a bare "host:port"
func NewServer(endpoint string, probe Probe, interval time.Duration) *Server {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Server{endpoint: endpoint, probe: probe, interval: interval}
}

// Start binds the endpoint, starts serving and starts probing
func (s *Server) Start(ctx context.Context) error {
	proto, addr, err := parseEndpoint(s.endpoint)
	if err != nil {
		return fmt.Errorf("failed to parse endpoint: %w", err)
	}

	// Remove existing socket file if it exists (unix sockets only)
	if proto == "unix" {
		if err := os.Remove(addr); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove existing socket: %w", err)
		}
	}

	listener, err := net.Listen(proto, addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s://%s: %w", proto, addr, err)
	}
	s.listener = listener

	s.health = health.NewServer()
	s.server = grpc.NewServer()
	healthpb.RegisterHealthServer(s.server, s.health)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)

	klog.Infof("Health server listening on %s://%s", proto, addr)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(listener); err != nil {
			klog.Errorf("Health server stopped: %v", err)
		}
	}()

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		wait.UntilWithContext(ctx, s.check, s.interval)
	}()
	return nil
}

// Addr returns the bound address, useful with port 0
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) check(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.probe != nil {
		if err := s.probe(ctx); err != nil {
			klog.Warningf("Health probe failed: %v", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.setStatus(status)
}

// Stop shuts the server down
func (s *Server) Stop() {
	klog.Info("Stopping health server")
	if s.cancel != nil {
		s.cancel()
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.server != nil {
		s.server.GracefulStop()
	}
	s.wg.Wait()
}

// parseEndpoint parses the endpoint into protocol and address
func parseEndpoint(endpoint string) (string, string, error) {
	if !strings.Contains(endpoint, "://") {
		if endpoint == "" {
			return "", "", fmt.Errorf("endpoint address cannot be empty")
		}
		return "tcp", endpoint, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse endpoint: %w", err)
	}

	var proto, addr string
	switch u.Scheme {
	case "unix":
		proto = "unix"
		addr = u.Path
		if addr == "" {
			addr = u.Host
		}
	case "tcp":
		proto = "tcp"
		addr = u.Host
		if addr == "" {
			return "", "", fmt.Errorf("tcp endpoint must specify host")
		}
	default:
		return "", "", fmt.Errorf("unsupported endpoint scheme: %s", u.Scheme)
	}

	if addr == "" {
		return "", "", fmt.Errorf("endpoint address cannot be empty")
	}
	return proto, addr, nil
}
