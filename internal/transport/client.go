package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"typeinject/inject"
)

type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// Dial connects to a Rewriter server. Without options the connection is
// plaintext.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: cc, health: healthpb.NewHealthClient(cc)}, nil
}

func (c *Client) Rewrite(ctx context.Context, req RewriteRequest) (*inject.FileRewrite, error) {
	in, err := req.toStruct()
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, rewriteMethod, in, out); err != nil {
		return nil, err
	}
	return decodeResult(out)
}

// Serving reports whether the server's Rewriter service is SERVING.
func (c *Client) Serving(ctx context.Context) (bool, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
