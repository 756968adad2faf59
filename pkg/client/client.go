package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client wraps the admin gRPC connection for CLI usage.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// NewClient dials addr without transport security, for a trusted local
// admin endpoint.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}, nil
}

// NewClientTLS dials addr, verifying the server certificate against the
// given root CA pool (nil uses the host's trust store).
func NewClientTLS(addr string, tlsConfig *tls.Config) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Healthy reports whether the admin surface's "flux" service is SERVING.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: "flux"})
	if err != nil {
		return false, fmt.Errorf("client: health check: %w", err)
	}
	return resp.Status == healthpb.HealthCheckResponse_SERVING, nil
}

// Watch streams health status changes until ctx is cancelled, calling fn
// for every update the server sends.
func (c *Client) Watch(ctx context.Context, fn func(serving bool)) error {
	stream, err := c.health.Watch(ctx, &healthpb.HealthCheckRequest{Service: "flux"})
	if err != nil {
		return fmt.Errorf("client: watch: %w", err)
	}
	for {
		resp, err := stream.Recv()
		if err != nil {
			return err
		}
		fn(resp.Status == healthpb.HealthCheckResponse_SERVING)
	}
}
