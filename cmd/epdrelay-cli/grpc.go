package main

import (
	"context"
	"fmt"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/joshp123/epdrelay/internal/router"
)

func newGRPCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grpc",
		Short: "Inspect the relay's gRPC endpoint",
	}
	cmd.AddCommand(newGRPCServicesCmd(), newGRPCHealthCmd())
	return cmd
}

func newGRPCServicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List services exposed through reflection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			conn, err := dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			services, err := grpcurl.ListServices(reflectionSource(ctx, conn))
			if err != nil {
				return fmt.Errorf("list services: %w", err)
			}
			out := output()
			if out.json {
				return out.printJSON(services)
			}
			for _, service := range services {
				out.line("%s", service)
			}
			return nil
		},
	}
}

func newGRPCHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health [component]",
		Short: "Check overall or per-component health",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			conn, err := dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			service := ""
			if len(args) == 1 {
				service = router.ServiceName(args[0])
			}
			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
			if err != nil {
				return fmt.Errorf("health check: %w", err)
			}
			out := output()
			if out.json {
				data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
				if err != nil {
					return err
				}
				out.line("%s", data)
				return nil
			}
			name := service
			if name == "" {
				name = "overall"
			}
			out.line("%s: %s", name, resp.GetStatus())
			return nil
		},
	}
}

func dial(ctx context.Context) (*grpc.ClientConn, error) {
	conn, err := grpcurl.BlockingDial(ctx, "tcp", flagGRPCAddr, insecure.NewCredentials())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", flagGRPCAddr, err)
	}
	return conn, nil
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	client := grpcreflect.NewClientAuto(ctx, conn)
	return grpcurl.DescriptorSourceFromServer(ctx, client)
}
