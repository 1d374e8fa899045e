package transport

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"typeinject/inject"
	"typeinject/typeassert"
)

const calcSrc = `package calc

//typeinject:check int, int
func IntDivision(a, b any) any {
	return a.(int) / b.(int)
}

func Wait(d any) {}
`

type fileObserver struct {
	files  int
	failed int
}

func (o *fileObserver) observe(_ *inject.FileRewrite, err error) {
	o.files++
	if err != nil {
		o.failed++
	}
}

type stageCounter struct {
	mu     sync.Mutex
	stages map[inject.State]int
}

func (s *stageCounter) ObserveStage(stage inject.State, _ time.Duration, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stages == nil {
		s.stages = map[inject.State]int{}
	}
	s.stages[stage]++
}

func startBufServer(t *testing.T, svc RewriterServer) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(lis, svc)
	go func() { _ = srv.Serve() }()
	t.Cleanup(srv.Stop)

	c, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRewrite_RoundTrip(t *testing.T) {
	obs := &fileObserver{}
	stages := &stageCounter{}
	c := startBufServer(t, &Service{Observe: obs.observe, Stages: stages})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := c.Rewrite(ctx, RewriteRequest{
		Filename: "/src/calc/calc.go",
		Source:   []byte(calcSrc),
		Requests: []inject.Request{{Func: "Wait", Types: []typeassert.Descriptor{typeassert.Of[time.Duration]()}}},
	})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !res.Changed() || len(res.Functions) != 2 {
		t.Fatalf("unexpected result %+v", res.Functions)
	}
	first := res.Functions[0]
	if first.Func != "IntDivision" || first.Line != 4 || len(first.Assertions) != 2 || first.Assertions[1].Param != "b" {
		t.Fatalf("unexpected first function %+v", first)
	}
	d := res.Functions[1].Assertions[0].Descriptor
	if d.Name() != "time.Duration" || d.Imports()["time"] != "time" {
		t.Fatalf("descriptor lost in transit: %s %v", d.Name(), d.Imports())
	}
	src := string(res.Source)
	if !strings.HasPrefix(src, "//line /src/calc/calc.go:1") || !strings.Contains(src, `"time"`) {
		t.Fatalf("unexpected source:\n%s", src)
	}
	if obs.files != 1 || obs.failed != 0 {
		t.Fatalf("observer saw %+v", obs)
	}
	if stages.stages[inject.Parsed] != 1 || stages.stages[inject.Spliced] != 2 {
		t.Fatalf("stage observer saw %v", stages.stages)
	}
}

func TestRewrite_ImportPathsTravelWithDescriptors(t *testing.T) {
	c := startBufServer(t, &Service{})
	src := "package calc\n\nfunc Wait(d any, s any) {}\n"
	res, err := c.Rewrite(context.Background(), RewriteRequest{
		Filename: "/src/calc/wait.go",
		Source:   []byte(src),
		Requests: []inject.Request{{Func: "Wait", Types: []typeassert.Descriptor{
			typeassert.Of[map[string]time.Duration](),
			typeassert.Of[[]strings.Builder]().Named("builders"),
		}}},
	})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	out := string(res.Source)
	for _, want := range []string{`"time"`, `"strings"`, `"builders"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output lacks %s:\n%s", want, out)
		}
	}
}

func TestDecodeDescriptor_PlainString(t *testing.T) {
	d, err := decodeDescriptor(structpb.NewStringValue("time.Duration"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if path, ok := d.Imports()["time"]; !ok || path != "" {
		t.Fatalf("plain string should leave the qualifier unresolved, got %v", d.Imports())
	}

	v, err := structpb.NewValue(encodeDescriptor(typeassert.Any))
	if err != nil {
		t.Fatal(err)
	}
	d, err = decodeDescriptor(v)
	if err != nil || !d.MatchesAll() {
		t.Fatalf("empty interface should survive the round trip: %v %v", d, err)
	}
}

func TestRewrite_ErrorCodes(t *testing.T) {
	obs := &fileObserver{}
	c := startBufServer(t, &Service{Observe: obs.observe})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cases := []struct {
		name string
		req  RewriteRequest
		want codes.Code
	}{
		{"no filename", RewriteRequest{Source: []byte(calcSrc)}, codes.InvalidArgument},
		{"bad source", RewriteRequest{Filename: "x.go", Source: []byte("package x\nfunc (")}, codes.InvalidArgument},
		{"unknown func", RewriteRequest{Filename: "x.go", Source: []byte(calcSrc), Requests: []inject.Request{{Func: "Nope"}}}, codes.InvalidArgument},
	}
	for _, tc := range cases {
		_, err := c.Rewrite(ctx, tc.req)
		if got := status.Code(err); got != tc.want {
			t.Fatalf("%s: got %v (%v), want %v", tc.name, got, err, tc.want)
		}
	}
	if obs.failed != 2 {
		t.Fatalf("observer should see the two files that reached RewriteFile, saw %+v", obs)
	}
}

func TestRewrite_ServerMarker(t *testing.T) {
	c := startBufServer(t, &Service{Marker: "app:typed"})
	src := strings.ReplaceAll(calcSrc, "typeinject:check", "app:typed")
	res, err := c.Rewrite(context.Background(), RewriteRequest{Filename: "calc.go", Source: []byte(src)})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !res.Changed() {
		t.Fatal("server default marker not applied")
	}
}

func TestHealth(t *testing.T) {
	c := startBufServer(t, &Service{})
	ok, err := c.Serving(context.Background())
	if err != nil || !ok {
		t.Fatalf("Serving = %v, %v", ok, err)
	}
}

func TestCodeOf(t *testing.T) {
	if codeOf(&inject.StageError{Err: inject.ErrAlreadyTransformed}) != codes.FailedPrecondition {
		t.Fatal("already transformed should be FailedPrecondition")
	}
	if codeOf(&inject.StageError{Err: inject.ErrInternal}) != codes.Internal {
		t.Fatal("internal should be Internal")
	}
}
