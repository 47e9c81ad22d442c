package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// 生命周期阶段，只允许单向推进：created → serving → closed。
const (
	phaseCreated = iota
	phaseServing
	phaseClosed
)

// Config HTTP 服务器配置
type Config struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 返回默认配置。
// WriteTimeout 取 10 分钟：同步生成要在写出响应前等完厂商轮询，
// 必须大于 vendor.poll_timeout 的上限。
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Minute,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Manager 包装 http.Server 的生命周期：非阻塞启动、信号等待、优雅关闭。
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	phase     int
	srv       *http.Server
	boundAddr string

	// run 把非正常退出的错误送到这里，容量 1
	fail chan error
}

// NewManager 构造一个尚未监听的 Manager。
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("http"),
		srv: &http.Server{
			Addr:           cfg.Addr,
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
		fail: make(chan error, 1),
	}
}

// Start 监听配置地址并在后台开始服务。
// 端口被占等监听失败会同步返回错误，此时实例仍可换地址重试。
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case phaseServing:
		return errors.New("http server already started")
	case phaseClosed:
		return errors.New("http server closed")
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.cfg.Addr, err)
	}

	m.phase = phaseServing
	m.boundAddr = ln.Addr().String()
	m.logger.Info("HTTP server listening", zap.String("addr", m.boundAddr))

	go m.run(ln)
	return nil
}

// run 驱动 Serve 循环。正常关闭以外的退出错误进入 fail 通道。
func (m *Manager) run(ln net.Listener) {
	err := m.srv.Serve(ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	m.logger.Error("HTTP server exited", zap.Error(err))
	select {
	case m.fail <- err:
	default:
	}
}

// Shutdown 优雅关闭，排空在途请求。重复调用是无害的 no-op。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.phase == phaseClosed {
		m.mu.Unlock()
		return nil
	}
	serving := m.phase == phaseServing
	addr := m.boundAddr
	m.phase = phaseClosed
	m.mu.Unlock()

	if !serving {
		return nil
	}

	if m.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}

	m.logger.Info("HTTP server shutting down", zap.String("addr", addr))
	if err := m.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	m.logger.Info("HTTP server stopped", zap.String("addr", addr))
	return nil
}

// WaitForShutdown 阻塞直到收到 SIGINT/SIGTERM 或 serve 异常退出，然后优雅关闭。
func (m *Manager) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-m.fail:
		m.logger.Error("HTTP server failed, shutting down", zap.Error(err))
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// Errors 暴露后台 serve 的异常退出，调用方可以 select 监听。
func (m *Manager) Errors() <-chan error {
	return m.fail
}

// Addr 返回实际监听地址；未启动时返回配置地址。
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.boundAddr != "" {
		return m.boundAddr
	}
	return m.cfg.Addr
}

// IsRunning 在 Shutdown 之前恒为 true，包括尚未 Start 的新实例。
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase != phaseClosed
}
