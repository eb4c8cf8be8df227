package grpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type fakeCluster struct {
	down atomic.Bool
}

func (f *fakeCluster) TestConnection(context.Context) error {
	if f.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func startServer(t *testing.T, cluster ClusterProber) (grpc_health_v1.HealthClient, *Server) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(0, cluster, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv.Serve(context.Background(), lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return grpc_health_v1.NewHealthClient(conn), srv
}

func status(t *testing.T, client grpc_health_v1.HealthClient, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealth_TracksClusterConnectivity(t *testing.T) {
	cluster := &fakeCluster{}
	client, _ := startServer(t, cluster)

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, status(t, client, ""))
	assert.Eventually(t, func() bool {
		return status(t, client, ClusterServiceName) == grpc_health_v1.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	cluster.down.Store(true)
	assert.Eventually(t, func() bool {
		return status(t, client, ClusterServiceName) == grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, status(t, client, ""), "the process stays serving")
}

func TestHealth_NoClusterStaysUnknown(t *testing.T) {
	client, _ := startServer(t, nil)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_UNKNOWN, status(t, client, ClusterServiceName))
}

func TestStop_IsIdempotent(t *testing.T) {
	_, srv := startServer(t, &fakeCluster{})
	srv.Stop()
	srv.Stop()
}
