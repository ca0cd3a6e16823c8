package server

import (
	"context"
	"testing"
	"time"

	"github.com/Ishiihara/chroma/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func startHealthServer(t *testing.T, services ...string) (*GRPCServer, grpc_health_v1.HealthClient) {
	t.Helper()
	lis := testutil.NewBufconnListener(0)
	srv := NewGRPCServer(nil, services...)
	go func() { _ = srv.Start(lis) }()
	t.Cleanup(srv.Stop)

	opts := append(testutil.BufconnDialOptions(lis), grpc.WithTransportCredentials(insecure.NewCredentials()))
	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, grpc_health_v1.NewHealthClient(conn)
}

func check(t *testing.T, client grpc_health_v1.HealthClient, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func TestGRPCServer_Health(t *testing.T) {
	srv, client := startHealthServer(t, "compaction")

	st, err := check(t, client, "")
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, st)

	st, err = check(t, client, "compaction")
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, st)

	srv.SetServing("compaction", false)
	st, err = check(t, client, "compaction")
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, st)

	_, err = check(t, client, "unknown")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPCServer_WatchComponentExit(t *testing.T) {
	srv, client := startHealthServer(t, "producer")

	done := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		srv.Watch(context.Background(), "producer", done)
		close(watched)
	}()
	close(done)
	<-watched

	st, err := check(t, client, "producer")
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, st)
}

func TestGRPCServer_WatchContextDone(t *testing.T) {
	srv, client := startHealthServer(t, "writer")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv.Watch(ctx, "writer", make(chan struct{}))

	st, err := check(t, client, "writer")
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, st)
}
