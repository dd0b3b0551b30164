package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"asxreport/internal/config"
	"asxreport/internal/mcpserver"
	"asxreport/pkg/api"
)

func newServeCmd() *cobra.Command {
	var transport string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (sse, streamable HTTP or stdio)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, l, err := setup()
			if err != nil {
				return err
			}
			if transport != "" {
				cfg.Server.Transport = config.NormalizeTransport(transport)
			}
			switch cfg.Server.Transport {
			case config.TransportStdio, config.TransportSSE, config.TransportStreamableHTTP:
			default:
				return fmt.Errorf("unsupported transport %q", cfg.Server.Transport)
			}

			svc, err := api.NewService(cfg, l)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := svc.Close(); cerr != nil {
					l.Err(cerr, "释放资源失败")
				}
			}()

			srv := mcpserver.New(svc, mcpserver.Options{
				Version:     version,
				Transport:   cfg.Server.Transport,
				Addr:        cfg.Addr(),
				Path:        cfg.Server.Path,
				SSEPath:     cfg.Server.SSEPath,
				MessagePath: cfg.Server.MessagePath,
				MountPath:   cfg.Server.MountPath,
				Metrics:     svc.MetricsHandler(),
			}, l.With("component", "mcp"))

			// 传输层退出（stdio 对端断开或收到信号）时同时停止工作者
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			var eg errgroup.Group
			svc.Start(ctx)
			eg.Go(svc.Wait)
			eg.Go(func() error {
				defer cancel()
				return srv.Serve(ctx)
			})
			err = eg.Wait()
			l.Info("服务已退出")
			return err
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "", "override server.transport (sse, streamable-http or stdio)")
	return cmd
}
