package transform

import (
	"context"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"typeinject/inject"
	"typeinject/internal/transport"
)

const src = `package calc

//typeinject:check int
func Half(a any) any { return a.(int) / 2 }
`

func TestInProcessClient(t *testing.T) {
	c := NewInProcessClient()
	res, err := c.Rewrite(context.Background(), "/src/calc.go", []byte(src), inject.FileOptions{})
	if err != nil || !res.Changed() {
		t.Fatalf("Rewrite: %v %+v", err, res)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Rewrite(ctx, "/src/calc.go", []byte(src), inject.FileOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if c.Retryable(errors.New("x")) {
		t.Fatal("local rewrites are never retried")
	}
}

func TestGRPCClient(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := transport.NewServer(lis, &transport.Service{})
	go func() { _ = srv.Serve() }()
	t.Cleanup(srv.Stop)

	c, err := NewGRPCClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewGRPCClient: %v", err)
	}
	defer c.Close()

	res, err := c.Rewrite(context.Background(), "/src/calc.go", []byte(src), inject.FileOptions{})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if len(res.Functions) != 1 || res.Functions[0].Func != "Half" {
		t.Fatalf("unexpected result %+v", res.Functions)
	}
	_, err = c.Rewrite(context.Background(), "/src/calc.go", []byte("package calc\nfunc ("), inject.FileOptions{})
	if status.Code(err) != codes.InvalidArgument || c.Retryable(err) {
		t.Fatalf("parse errors are final: %v", err)
	}
	if !c.Retryable(status.Error(codes.Unavailable, "down")) {
		t.Fatal("unavailable should be retried")
	}
}
