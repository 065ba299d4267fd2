package sttv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	SpeechToTextService_StreamRecognition_FullMethodName = "/funasr.stt.v1.SpeechToTextService/StreamRecognition"
	SpeechToTextService_Punctuate_FullMethodName         = "/funasr.stt.v1.SpeechToTextService/Punctuate"
)

// SpeechToTextServiceServer is the server API for SpeechToTextService.
type SpeechToTextServiceServer interface {
	StreamRecognition(SpeechToTextService_StreamRecognitionServer) error
	Punctuate(context.Context, *PunctuateRequest) (*PunctuateResponse, error)
}

// UnimplementedSpeechToTextServiceServer can be embedded for forward compatibility.
type UnimplementedSpeechToTextServiceServer struct{}

func (UnimplementedSpeechToTextServiceServer) StreamRecognition(SpeechToTextService_StreamRecognitionServer) error {
	return status.Errorf(codes.Unimplemented, "method StreamRecognition not implemented")
}

func (UnimplementedSpeechToTextServiceServer) Punctuate(context.Context, *PunctuateRequest) (*PunctuateResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Punctuate not implemented")
}

// RegisterSpeechToTextServiceServer registers srv on s.
func RegisterSpeechToTextServiceServer(s grpc.ServiceRegistrar, srv SpeechToTextServiceServer) {
	s.RegisterService(&SpeechToTextService_ServiceDesc, srv)
}

// SpeechToTextService_StreamRecognitionServer is the server side of a recognition stream.
type SpeechToTextService_StreamRecognitionServer interface {
	Send(*Transcript) error
	Recv() (*StreamRecognitionRequest, error)
	grpc.ServerStream
}

type speechToTextServiceStreamRecognitionServer struct {
	grpc.ServerStream
}

func (x *speechToTextServiceStreamRecognitionServer) Send(m *Transcript) error {
	return x.ServerStream.SendMsg(m)
}

func (x *speechToTextServiceStreamRecognitionServer) Recv() (*StreamRecognitionRequest, error) {
	m := new(StreamRecognitionRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _SpeechToTextService_StreamRecognition_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(SpeechToTextServiceServer).StreamRecognition(&speechToTextServiceStreamRecognitionServer{stream})
}

func _SpeechToTextService_Punctuate_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PunctuateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SpeechToTextServiceServer).Punctuate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SpeechToTextService_Punctuate_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SpeechToTextServiceServer).Punctuate(ctx, req.(*PunctuateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// SpeechToTextService_ServiceDesc is the grpc.ServiceDesc for SpeechToTextService.
var SpeechToTextService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "funasr.stt.v1.SpeechToTextService",
	HandlerType: (*SpeechToTextServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Punctuate",
			Handler:    _SpeechToTextService_Punctuate_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamRecognition",
			Handler:       _SpeechToTextService_StreamRecognition_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "funasr/stt/v1/stt.proto",
}

// SpeechToTextServiceClient is the client API for SpeechToTextService. Calls
// use the JSON codec.
type SpeechToTextServiceClient interface {
	StreamRecognition(ctx context.Context, opts ...grpc.CallOption) (SpeechToTextService_StreamRecognitionClient, error)
	Punctuate(ctx context.Context, in *PunctuateRequest, opts ...grpc.CallOption) (*PunctuateResponse, error)
}

type speechToTextServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSpeechToTextServiceClient wraps cc.
func NewSpeechToTextServiceClient(cc grpc.ClientConnInterface) SpeechToTextServiceClient {
	return &speechToTextServiceClient{cc}
}

func (c *speechToTextServiceClient) StreamRecognition(ctx context.Context, opts ...grpc.CallOption) (SpeechToTextService_StreamRecognitionClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &SpeechToTextService_ServiceDesc.Streams[0], SpeechToTextService_StreamRecognition_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	return &speechToTextServiceStreamRecognitionClient{stream}, nil
}

func (c *speechToTextServiceClient) Punctuate(ctx context.Context, in *PunctuateRequest, opts ...grpc.CallOption) (*PunctuateResponse, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	out := new(PunctuateResponse)
	if err := c.cc.Invoke(ctx, SpeechToTextService_Punctuate_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// SpeechToTextService_StreamRecognitionClient is the client side of a recognition stream.
type SpeechToTextService_StreamRecognitionClient interface {
	Send(*StreamRecognitionRequest) error
	Recv() (*Transcript, error)
	grpc.ClientStream
}

type speechToTextServiceStreamRecognitionClient struct {
	grpc.ClientStream
}

func (x *speechToTextServiceStreamRecognitionClient) Send(m *StreamRecognitionRequest) error {
	return x.ClientStream.SendMsg(m)
}

func (x *speechToTextServiceStreamRecognitionClient) Recv() (*Transcript, error) {
	m := new(Transcript)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
