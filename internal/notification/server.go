// Package notification implements the gRPC service that emails run
// summaries to operators.
package notification

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"itemuploader/internal/proto"
)

type NotificationServer struct {
	proto.UnimplementedNotificationServiceServer
	mailer Mailer
}

func NewNotificationServer(mailer Mailer) *NotificationServer {
	return &NotificationServer{mailer: mailer}
}

// Start serves the notification gRPC service on NOTIFICATION_GRPC_PORT
// until ctx is done.
func Start(ctx context.Context) error {
	port := viper.GetString("NOTIFICATION_GRPC_PORT")
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", port, err)
	}

	s := NewGRPCServer(NewEmailService())
	go func() {
		logrus.WithField("port", port).Info("Starting Notification gRPC server")
		if err := s.Serve(lis); err != nil {
			logrus.WithError(err).Error("Notification gRPC server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		s.GracefulStop()
	}()
	return nil
}

// NewGRPCServer returns a gRPC server with the notification service
// registered.
func NewGRPCServer(mailer Mailer) *grpc.Server {
	s := grpc.NewServer()
	proto.RegisterNotificationServiceServer(s, NewNotificationServer(mailer))
	return s
}

func (s *NotificationServer) SendRunSummary(ctx context.Context, in *structpb.Struct) (*wrapperspb.BoolValue, error) {
	summary, err := proto.DecodeRunSummary(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	logrus.WithFields(logrus.Fields{
		"run_id": summary.RunID,
		"email":  summary.Email,
		"status": summary.Status,
	}).Info("Received run summary request")

	if summary.Email == "" {
		return nil, status.Error(codes.InvalidArgument, "email is required")
	}

	subject, html, err := RenderRunSummary(summary)
	if err != nil {
		logrus.WithError(err).Error("Failed to render run summary")
		return nil, status.Error(codes.Internal, err.Error())
	}

	if err := s.mailer.SendMail(summary.Email, html, subject); err != nil {
		logrus.WithError(err).WithField("run_id", summary.RunID).Error("Error sending email notification")
		return wrapperspb.Bool(false), nil
	}
	return wrapperspb.Bool(true), nil
}
