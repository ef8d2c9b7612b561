package engine

import (
	"context"
	"fmt"
	"mockhttp/pkg/utils/fs"
	"mockhttp/pkg/utils/system"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
)

const SHUTDOWN_TIMEOUT = 10 * time.Second

func (engine *MockEngine) newServer() *fasthttp.Server {
	return &fasthttp.Server{
		Handler:              engine.Handler(),
		Name:                 engine.config.Server.Name,
		Logger:               engine.logger,
		MaxRequestBodySize:   engine.config.Server.MaxRequestBodySize,
		DisableKeepalive:     true,
		NoDefaultContentType: true,
		CloseOnShutdown:      true,
	}
}

func (engine *MockEngine) newAdminServer() *fasthttp.Server {
	return &fasthttp.Server{
		Handler: engine.metrics.AdminHandler(),
		Name:    engine.config.Server.Name + "-admin",
		Logger:  engine.logger,
	}
}

// Run serves until SIGINT/SIGTERM or a listener failure, then shuts down.
func (engine *MockEngine) Run() error {
	addr := system.ListenAddr(engine.config.Server.Host, engine.config.Server.Port)
	engine.logger.Info(fmt.Sprintf("mockhttp starting on %s...", addr))

	server := engine.newServer()
	errCh := make(chan error, 2)

	go func() {
		if err := server.ListenAndServe(addr); err != nil {
			errCh <- fmt.Errorf("mock server on %s: %w", addr, err)
		}
	}()

	var admin *fasthttp.Server
	if engine.config.Metrics.Enabled {
		adminAddr := system.ListenAddr(engine.config.Metrics.Host, engine.config.Metrics.Port)
		admin = engine.newAdminServer()
		engine.logger.Info(fmt.Sprintf("Admin endpoints (/metrics, /healthz) on %s", adminAddr))
		go func() {
			if err := admin.ListenAndServe(adminAddr); err != nil {
				errCh <- fmt.Errorf("admin server on %s: %w", adminAddr, err)
			}
		}()
	}

	if err := engine.storePid(); err != nil {
		engine.logger.Warn(fmt.Sprintf("Continuing without a pid file: %v", err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		engine.logger.Info(fmt.Sprintf("Received %s, shutting down server...", sig))
	case runErr = <-errCh:
		engine.logger.Error(fmt.Sprintf("Fatal server error: %v", runErr))
	}

	engine.shutdown(server, admin)
	if err := engine.cleanup(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (engine *MockEngine) shutdown(servers ...*fasthttp.Server) {
	// Wake sleeping requests first so Shutdown does not wait out their delays.
	engine.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
	defer cancel()

	for _, server := range servers {
		if server == nil {
			continue
		}
		if err := server.ShutdownWithContext(ctx); err != nil {
			engine.logger.Error(fmt.Sprintf("Server shutdown error: %v", err))
		}
	}
}

func (engine *MockEngine) pidPath() string {
	return filepath.Join(engine.config.Storage.Path, PID_FILE)
}

func (engine *MockEngine) storePid() error {
	path := engine.pidPath()
	if err := fs.WritePidFile(path, engine.pid); err != nil {
		engine.logger.Error(fmt.Sprintf("Unable to store program id due to %v", err))
		return err
	}

	engine.logger.Info(fmt.Sprintf("Stored program id information at %s", path))
	return nil
}

func (engine *MockEngine) cleanup() error {
	engine.cancel()

	if engine.rateLimitManager != nil {
		if err := engine.rateLimitManager.Close(); err != nil {
			engine.logger.Error(fmt.Sprintf("Failed to close rate limit manager: %v", err))
		}
	}

	var err error
	switch rmErr := os.Remove(engine.pidPath()); {
	case rmErr == nil:
		engine.logger.Info("PID file removed.")
	case !os.IsNotExist(rmErr):
		engine.logger.Error(fmt.Sprintf("Failed to remove PID file: %v", rmErr))
		err = rmErr
	}

	if closeErr := engine.logger.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
