// Package mcpserver MCP 工具服务，支持 stdio、SSE 与 streamable HTTP 传输
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"asxreport/internal/logger"
)

const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"

	shutdownTimeout = 10 * time.Second
)

// Options 服务配置
type Options struct {
	Name      string
	Version   string
	Transport string
	Addr      string
	// Path streamable HTTP 端点
	Path string
	// SSEPath 建立 SSE 会话（GET），MessagePath 接收客户端消息（POST ?sessionid=）
	SSEPath     string
	MessagePath string
	// MountPath 以上端点的公共前缀
	MountPath string
	// Metrics 挂载在 /metrics，nil 时不挂载
	Metrics http.Handler
}

// Server MCP 服务
type Server struct {
	opt Options
	mcp *mcp.Server
	log logger.Logger
}

// New 创建服务并注册工具
func New(svc Reporter, opt Options, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNop()
	}
	if opt.Name == "" {
		opt.Name = "asx-chart-report"
	}
	if opt.Path == "" {
		opt.Path = "/mcp"
	}
	if opt.SSEPath == "" {
		opt.SSEPath = "/sse"
	}
	if opt.MessagePath == "" {
		opt.MessagePath = "/messages/"
	}
	s := mcp.NewServer(&mcp.Implementation{Name: opt.Name, Version: opt.Version}, nil)
	NewHandler(svc, l).Register(s)
	return &Server{opt: opt, mcp: s, log: l}
}

// MCP 底层 MCP 服务
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Router HTTP 路由：两种 HTTP 传输的 MCP 端点、健康检查与指标
// SSE 会话通告的消息地址是 SSEPath?sessionid=，MessagePath 同样接受带 sessionid 的 POST
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	getServer := func(*http.Request) *mcp.Server { return s.mcp }
	streamable := mcp.NewStreamableHTTPHandler(getServer, nil)
	sse := mcp.NewSSEHandler(getServer, nil)

	endpoints := chi.NewRouter()
	endpoints.Handle(s.opt.Path, streamable)
	endpoints.Handle(strings.TrimSuffix(s.opt.Path, "/")+"/*", streamable)
	endpoints.Handle(s.opt.SSEPath, sse)
	if msg := strings.TrimSuffix(s.opt.MessagePath, "/"); msg != "" && msg != strings.TrimSuffix(s.opt.SSEPath, "/") {
		endpoints.Method(http.MethodPost, msg, sse)
		endpoints.Method(http.MethodPost, msg+"/", sse)
	}
	if mount := strings.TrimSuffix(s.opt.MountPath, "/"); mount != "" {
		r.Mount(mount, endpoints)
	} else {
		r.Mount("/", endpoints)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if s.opt.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opt.Metrics)
	}
	return r
}

// Serve 阻塞运行直到 ctx 结束
func (s *Server) Serve(ctx context.Context) error {
	switch s.opt.Transport {
	case TransportStdio:
		s.log.Info("MCP 服务启动", "transport", TransportStdio)
		if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio transport: %w", err)
		}
		return nil
	case TransportSSE, TransportStreamableHTTP, "":
		return s.serveHTTP(ctx)
	default:
		return fmt.Errorf("unsupported transport %q", s.opt.Transport)
	}
}

func (s *Server) serveHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opt.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("MCP 服务启动", "transport", s.opt.Transport, "addr", s.opt.Addr,
			"mount", s.opt.MountPath, "sse", s.opt.SSEPath, "messages", s.opt.MessagePath, "streamable", s.opt.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", s.opt.Addr, err)
	case <-ctx.Done():
	}

	s.log.Info("MCP 服务正在关闭")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
