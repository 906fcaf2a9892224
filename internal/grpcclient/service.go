package grpcclient

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
	"github.com/GriffinCanCode/gardenbot/internal/ocr"
	"github.com/GriffinCanCode/gardenbot/internal/trace"
)

// The service uses well-known wrapper types so no generated code is needed.
var recognizerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ocr.Recognizer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Recognize", Handler: recognizeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gardenbot/ocr/v1/recognizer.proto",
}

// RegisterRecognizerServer exposes r on s.
func RegisterRecognizerServer(s grpc.ServiceRegistrar, r ocr.Recognizer) {
	s.RegisterService(&recognizerServiceDesc, r)
}

// NewServer returns a gRPC server hosting r with trace propagation.
func NewServer(r ocr.Recognizer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.MaxRecvMsgSize(MaxImageBytes),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             DefaultKeepaliveTime / 2,
			PermitWithoutStream: true,
		}),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterRecognizerServer(s, r)
	return s
}

func recognizeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		img := req.(*wrapperspb.BytesValue).GetValue()
		text, err := srv.(ocr.Recognizer).Recognize(ctx, img)
		if err != nil {
			trace.Logger(ctx).Debug("recognize failed", "bytes", len(img), "error", err)
			if _, ok := err.(*apperrors.AppError); !ok {
				err = apperrors.Wrap(err, apperrors.CodeRecognitionFailed, "recognize")
			}
			return nil, err
		}
		return wrapperspb.String(text), nil
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: RecognizeMethod}, call)
}
