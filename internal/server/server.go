// Package server 基于 echo 的 HTTP 入口。
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"signbridge/internal/ctxkeys"
	"signbridge/internal/handler"
	"signbridge/internal/logger"
	"signbridge/pkg/api"
)

// Server HTTP 服务
type Server struct {
	e    *echo.Echo
	addr string
	log  logger.Logger
}

// Options 服务参数
type Options struct {
	Addr    string
	Version string
}

// New 注册路由与中间件
func New(opts Options, svc api.Service, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNop()
	}
	l = l.With("component", "server")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = false

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(ctxkeys.WithTraceID(req.Context(), id)))
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			l.Info("HTTP请求", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "requestId", v.RequestID)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"*"},
	}))

	h := handler.New(handler.Config{Service: svc, Version: opts.Version, Logger: l})
	e.GET("/health", h.Health)
	e.POST("/sign/xhs", h.Sign)
	e.POST("/sign/xhs/browser", h.Browser)
	e.POST("/sign/xhs/hybrid", h.Hybrid)
	e.DELETE("/sign/xhs/b1", h.ForgetB1)

	return &Server{e: e, addr: opts.Addr, log: l}
}

// Handler 供测试与嵌入使用
func (s *Server) Handler() http.Handler { return s.e }

// Start 阻塞直到服务关闭
func (s *Server) Start() error {
	s.log.Info("HTTP服务已启动", "addr", s.addr)
	if err := s.e.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 等待进行中的请求完成
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("正在关闭HTTP服务")
	return s.e.Shutdown(ctx)
}
