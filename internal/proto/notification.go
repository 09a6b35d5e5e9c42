// Package proto holds the gRPC contract of the notification service.
// Messages use the protobuf well-known Struct and BoolValue types so the
// service needs no generated message code.
package proto

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	NotificationService_ServiceName           = "itemuploader.NotificationService"
	NotificationService_SendRunSummary_Method = "/itemuploader.NotificationService/SendRunSummary"
)

// StepLine is one step of a finished run as shown in the summary email.
type StepLine struct {
	Step       int    `json:"step"`
	Title      string `json:"title"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// RunSummary is the payload of SendRunSummary.
type RunSummary struct {
	RunID    string     `json:"run_id"`
	Email    string     `json:"email"`
	ShopCode string     `json:"shop_code"`
	Status   string     `json:"status"`
	Error    string     `json:"error,omitempty"`
	Steps    []StepLine `json:"steps"`
}

// EncodeRunSummary converts s to its wire form.
func EncodeRunSummary(s RunSummary) (*structpb.Struct, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("encode run summary: %w", err)
	}
	return out, nil
}

// DecodeRunSummary converts the wire form back into a RunSummary.
func DecodeRunSummary(in *structpb.Struct) (RunSummary, error) {
	var s RunSummary
	data, err := in.MarshalJSON()
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode run summary: %w", err)
	}
	return s, nil
}

// NotificationServiceClient is the client API for the notification service.
type NotificationServiceClient interface {
	SendRunSummary(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
}

type notificationServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewNotificationServiceClient(cc grpc.ClientConnInterface) NotificationServiceClient {
	return &notificationServiceClient{cc}
}

func (c *notificationServiceClient) SendRunSummary(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, NotificationService_SendRunSummary_Method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// NotificationServiceServer is the server API for the notification service.
type NotificationServiceServer interface {
	SendRunSummary(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
}

// UnimplementedNotificationServiceServer can be embedded for forward
// compatibility.
type UnimplementedNotificationServiceServer struct{}

func (UnimplementedNotificationServiceServer) SendRunSummary(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SendRunSummary not implemented")
}

func RegisterNotificationServiceServer(s grpc.ServiceRegistrar, srv NotificationServiceServer) {
	s.RegisterService(&NotificationService_ServiceDesc, srv)
}

func _NotificationService_SendRunSummary_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NotificationServiceServer).SendRunSummary(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: NotificationService_SendRunSummary_Method,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NotificationServiceServer).SendRunSummary(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// NotificationService_ServiceDesc is the grpc.ServiceDesc for the
// notification service.
var NotificationService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: NotificationService_ServiceName,
	HandlerType: (*NotificationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SendRunSummary",
			Handler:    _NotificationService_SendRunSummary_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "notification.proto",
}
