package engine

import (
	"context"
	"fmt"
	"mockhttp/pkg/metrics"
	"mockhttp/pkg/models"
	"mockhttp/pkg/ratelimit"
	"mockhttp/pkg/ratelimitmanager"
	"mockhttp/pkg/router"
	"mockhttp/pkg/utils/fs"
	"mockhttp/pkg/utils/hash"
	"mockhttp/pkg/utils/logger"
	"os"
	"path/filepath"

	"github.com/valyala/fasthttp"
	"gopkg.in/yaml.v3"
)

const (
	APP_NAME            = "mockhttp"
	DEFAULT_PORT        = 8080
	DEFAULT_ADMIN_PORT  = 9090
	DEFAULT_STORAGE_KEY = "default"
	PID_FILE            = "mockhttp.pid"
)

type MockEngine struct {
	config           *models.MockConfig
	logger           *logger.Logger
	metrics          *metrics.Metrics
	router           *router.RequestRouter
	rateLimitManager *ratelimitmanager.RateLimitManager
	pid              int

	// ctx ends every pending delay once shutdown starts.
	ctx    context.Context
	cancel context.CancelFunc
}

// LoadConfig reads the YAML config at configPath and applies defaults.
// An empty path yields the default configuration.
func LoadConfig(configPath string) (*models.MockConfig, error) {
	config := &models.MockConfig{}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read the config at %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("unable to parse the config at %s: %w", configPath, err)
		}
	}

	if err := applyDefaults(config, configPath); err != nil {
		return nil, err
	}
	return config, nil
}

func applyDefaults(config *models.MockConfig, configPath string) error {
	if config.Server == nil {
		config.Server = &models.ServerConfig{}
	}
	if config.Server.Port == 0 {
		config.Server.Port = DEFAULT_PORT
	}
	if config.Server.Name == "" {
		config.Server.Name = APP_NAME
	}
	if config.Log == nil {
		config.Log = &models.LogConfig{
			ToStdout: true,
			Prefix:   "[" + APP_NAME + "]",
		}
	}
	if config.Metrics == nil {
		config.Metrics = &models.MetricsConfig{}
	}
	if config.Metrics.Port == 0 {
		config.Metrics.Port = DEFAULT_ADMIN_PORT
	}
	if config.RateLimit == nil {
		config.RateLimit = &models.RateLimitConfig{}
	}
	if config.Storage == nil || config.Storage.Path == "" {
		dir, err := StorageDirFor(configPath)
		if err != nil {
			return err
		}
		config.Storage = &models.StorageConfig{Path: dir}
	}
	return nil
}

// StorageDirFor is the per-config directory holding the pid file. Each config
// path gets its own directory so several mock servers can run side by side.
func StorageDirFor(configPath string) (string, error) {
	appData, err := fs.GetUserAppDataDir(APP_NAME)
	if err != nil {
		return "", fmt.Errorf("failed to determine app data dir: %w", err)
	}

	if configPath == "" {
		return filepath.Join(appData, DEFAULT_STORAGE_KEY), nil
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute config path: %w", err)
	}
	return filepath.Join(appData, hash.HashString(absPath)), nil
}

func InstantiateMockEngine(configPath string) (*MockEngine, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return NewMockEngine(config)
}

func NewMockEngine(config *models.MockConfig) (*MockEngine, error) {
	log, err := logger.NewLogger(config.Log)
	if err != nil {
		return nil, fmt.Errorf("unable to instantiate the logger: %w", err)
	}

	limiter, err := ratelimit.NewRateLimiter(config.RateLimit, log)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("unable to instantiate the rate limiter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.New(APP_NAME)

	engine := &MockEngine{
		config:  config,
		logger:  log,
		metrics: m,
		router: router.NewRequestRouter(log,
			router.WithBaseContext(ctx),
			router.WithMetrics(m),
		),
		pid:    os.Getpid(),
		ctx:    ctx,
		cancel: cancel,
	}

	if limiter != nil {
		engine.rateLimitManager = ratelimitmanager.NewRateLimitManager(limiter, config.RateLimit, log)
		log.Info(fmt.Sprintf("Throttling enabled: %d requests per %s (%s storage)",
			*config.RateLimit.Requests, *config.RateLimit.Window, config.RateLimit.Storage))
	}

	return engine, nil
}

// Handler is the full request pipeline: throttling, then the mock routes.
func (engine *MockEngine) Handler() fasthttp.RequestHandler {
	return engine.rateLimitMiddleware(engine.router.Handle)
}

func (engine *MockEngine) rateLimitMiddleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	if engine.rateLimitManager == nil {
		return next
	}

	return func(ctx *fasthttp.RequestCtx) {
		result := engine.rateLimitManager.Check(ctx)
		if !result.Allowed {
			engine.metrics.Throttled()
			engine.rateLimitManager.Reject(ctx, result)
			return
		}

		// Headers go on before the route runs so hand-written responses carry them too.
		engine.rateLimitManager.SetHeaders(ctx, result)
		next(ctx)
	}
}
