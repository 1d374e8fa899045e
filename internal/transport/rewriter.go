package transport

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"typeinject/inject"
	"typeinject/typeassert"
)

// The Rewriter service carries google.protobuf.Struct messages, so it needs no
// generated stubs:
//
//	service Rewriter { rpc Rewrite(google.protobuf.Struct) returns (google.protobuf.Struct); }
const (
	ServiceName   = "typeinject.v1.Rewriter"
	rewriteMethod = "/" + ServiceName + "/Rewrite"
)

// RewriterServer is the server API for the Rewriter service.
type RewriterServer interface {
	Rewrite(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterRewriterServer(s grpc.ServiceRegistrar, srv RewriterServer) {
	s.RegisterService(&rewriterServiceDesc, srv)
}

func rewriteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RewriterServer).Rewrite(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: rewriteMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RewriterServer).Rewrite(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var rewriterServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RewriterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Rewrite", Handler: rewriteHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "typeinject/v1/rewriter.proto",
}

// RewriteRequest is the decoded form of a Rewrite request:
//
//	{filename, source, marker?, targets?: [{func, types: [type..]}]}
//
// where each type is {name, expr, imports: {local: path}}. A plain string is
// accepted as a type too; its qualifiers must then be imported by the file.
type RewriteRequest struct {
	Filename string
	Source   []byte
	Marker   string
	Requests []inject.Request
}

func (r RewriteRequest) toStruct() (*structpb.Struct, error) {
	targets := make([]any, 0, len(r.Requests))
	for _, req := range r.Requests {
		types := make([]any, 0, len(req.Types))
		for _, d := range req.Types {
			types = append(types, encodeDescriptor(d))
		}
		targets = append(targets, map[string]any{"func": req.Func, "types": types})
	}
	return structpb.NewStruct(map[string]any{
		"filename": r.Filename,
		"source":   string(r.Source),
		"marker":   r.Marker,
		"targets":  targets,
	})
}

func decodeRequest(in *structpb.Struct) (RewriteRequest, error) {
	f := in.GetFields()
	req := RewriteRequest{
		Filename: f["filename"].GetStringValue(),
		Source:   []byte(f["source"].GetStringValue()),
		Marker:   f["marker"].GetStringValue(),
	}
	if req.Filename == "" {
		return req, errors.New("filename is required")
	}
	for i, v := range f["targets"].GetListValue().GetValues() {
		tf := v.GetStructValue().GetFields()
		name := tf["func"].GetStringValue()
		if name == "" {
			return req, fmt.Errorf("target %d: func is required", i)
		}
		r := inject.Request{Func: name}
		for _, tv := range tf["types"].GetListValue().GetValues() {
			d, err := decodeDescriptor(tv)
			if err != nil {
				return req, fmt.Errorf("target %s: %w", name, err)
			}
			r.Types = append(r.Types, d)
		}
		req.Requests = append(req.Requests, r)
	}
	return req, nil
}

func encodeResult(res *inject.FileRewrite) (*structpb.Struct, error) {
	fns := make([]any, 0, len(res.Functions))
	for _, fn := range res.Functions {
		checks := make([]any, 0, len(fn.Assertions))
		for _, a := range fn.Assertions {
			checks = append(checks, map[string]any{"param": a.Param, "type": encodeDescriptor(a.Descriptor)})
		}
		fns = append(fns, map[string]any{"func": fn.Func, "line": fn.Line, "assertions": checks})
	}
	return structpb.NewStruct(map[string]any{
		"filename":  res.Filename,
		"changed":   res.Changed(),
		"source":    string(res.Source),
		"functions": fns,
	})
}

// decodeResult is the client-side inverse of encodeResult.
func decodeResult(out *structpb.Struct) (*inject.FileRewrite, error) {
	f := out.GetFields()
	res := &inject.FileRewrite{Filename: f["filename"].GetStringValue()}
	if src := f["source"].GetStringValue(); src != "" {
		res.Source = []byte(src)
	}
	for _, v := range f["functions"].GetListValue().GetValues() {
		ff := v.GetStructValue().GetFields()
		fr := inject.FuncRewrite{Func: ff["func"].GetStringValue(), Line: int(ff["line"].GetNumberValue())}
		for _, av := range ff["assertions"].GetListValue().GetValues() {
			af := av.GetStructValue().GetFields()
			d, err := decodeDescriptor(af["type"])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", fr.Func, err)
			}
			fr.Assertions = append(fr.Assertions, inject.Assertion{Param: af["param"].GetStringValue(), Descriptor: d})
		}
		res.Functions = append(res.Functions, fr)
	}
	return res, nil
}

func encodeDescriptor(d typeassert.Descriptor) map[string]any {
	imports := map[string]any{}
	for local, path := range d.Imports() {
		imports[local] = path
	}
	return map[string]any{"name": d.Name(), "expr": d.Expr(), "imports": imports}
}

func decodeDescriptor(v *structpb.Value) (typeassert.Descriptor, error) {
	if _, ok := v.GetKind().(*structpb.Value_StringValue); ok {
		return typeassert.Parse(v.GetStringValue())
	}
	f := v.GetStructValue().GetFields()
	d, err := typeassert.Parse(f["expr"].GetStringValue())
	if err != nil {
		return d, err
	}
	imports := map[string]string{}
	for local, path := range f["imports"].GetStructValue().GetFields() {
		imports[local] = path.GetStringValue()
	}
	return d.Resolve(imports).Named(f["name"].GetStringValue()), nil
}

// Service implements RewriterServer with inject.RewriteFile.
type Service struct {
	Marker  string
	Observe func(*inject.FileRewrite, error)
	// Stages receives the parse and splice timings of every request.
	Stages inject.Observer
}

func (s *Service) Rewrite(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	marker := req.Marker
	if marker == "" {
		marker = s.Marker
	}
	res, err := inject.RewriteFile(req.Filename, req.Source, inject.FileOptions{Marker: marker, Requests: req.Requests, Observer: s.Stages})
	if s.Observe != nil {
		s.Observe(res, err)
	}
	if err != nil {
		return nil, status.Error(codeOf(err), err.Error())
	}
	return encodeResult(res)
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, inject.ErrParse):
		return codes.InvalidArgument
	case errors.Is(err, inject.ErrAlreadyTransformed):
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}
