package transform

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"typeinject/inject"
	"typeinject/internal/transport"
)

// Client wraps a rewriter (in-process or over gRPC) and exposes a uniform API.
// The pipeline can swap implementations behind this interface.
type Client interface {
	Rewrite(ctx context.Context, filename string, src []byte, opts inject.FileOptions) (*inject.FileRewrite, error)
	// Retryable reports whether err is worth another attempt.
	Retryable(err error) bool
	Close() error
}

// GRPCClient sends files to a remote Rewriter service.
type GRPCClient struct {
	c *transport.Client
}

func NewGRPCClient(target string, opts ...grpc.DialOption) (*GRPCClient, error) {
	c, err := transport.Dial(target, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPCClient{c: c}, nil
}

func (g *GRPCClient) Rewrite(ctx context.Context, filename string, src []byte, opts inject.FileOptions) (*inject.FileRewrite, error) {
	return g.c.Rewrite(ctx, transport.RewriteRequest{
		Filename: filename,
		Source:   src,
		Marker:   opts.Marker,
		Requests: opts.Requests,
	})
}

func (g *GRPCClient) Retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	}
	return false
}

func (g *GRPCClient) Close() error { return g.c.Close() }

// InProcessClient rewrites with inject.RewriteFile in the calling process.
type InProcessClient struct{}

func NewInProcessClient() *InProcessClient { return &InProcessClient{} }

func (InProcessClient) Rewrite(ctx context.Context, filename string, src []byte, opts inject.FileOptions) (*inject.FileRewrite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return inject.RewriteFile(filename, src, opts)
}

// Retryable is always false: a local rewrite is deterministic.
func (InProcessClient) Retryable(error) bool { return false }

func (InProcessClient) Close() error { return nil }
