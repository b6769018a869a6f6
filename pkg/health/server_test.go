package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		endpoint  string
		wantProto string
		wantAddr  string
		wantErr   bool
	}{
		{endpoint: ":9810", wantProto: "tcp", wantAddr: ":9810"},
		{endpoint: "tcp://127.0.0.1:9810", wantProto: "tcp", wantAddr: "127.0.0.1:9810"},
		{endpoint: "unix:///run/arraysync/health.sock", wantProto: "unix", wantAddr: "/run/arraysync/health.sock"},
		{endpoint: "tcp://", wantErr: true},
		{endpoint: "http://localhost", wantErr: true},
		{endpoint: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			proto, addr, err := parseEndpoint(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantProto, proto)
			assert.Equal(t, tt.wantAddr, addr)
		})
	}
}

func TestServer_FollowsProbe(t *testing.T) {
	var failing atomic.Bool
	probe := func(context.Context) error {
		if failing.Load() {
			return errors.New("database is locked")
		}
		return nil
	}

	s := NewServer("tcp://127.0.0.1:0", probe, 10*time.Millisecond)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	conn, err := grpc.NewClient(s.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	status := func() healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	assert.Eventually(t, func() bool {
		return status() == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 20*time.Millisecond)

	failing.Store(true)
	assert.Eventually(t, func() bool {
		return status() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 5*time.Second, 20*time.Millisecond)
}
