package engine

import (
	"fmt"
	"mockhttp/pkg/models"
	"mockhttp/pkg/ratelimit"
	"mockhttp/pkg/utils/system"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// InitConfig writes a starter config to configPath. It refuses to overwrite an existing file.
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	storageDir, err := StorageDirFor(configPath)
	if err != nil {
		return err
	}

	port, err := system.GetFreePort("")
	if err != nil {
		return fmt.Errorf("unable to find a free port: %w", err)
	}
	adminPort, err := system.GetFreePort("")
	if err != nil {
		return fmt.Errorf("unable to find a free admin port: %w", err)
	}

	requests := int64(100)
	window := time.Minute
	defaultConfig := &models.MockConfig{
		Log: &models.LogConfig{
			ToFile:   true,
			FilePath: filepath.Join(storageDir, APP_NAME+".log"),
			ToStdout: true,
			Prefix:   "[" + APP_NAME + "]",
		},
		Server: &models.ServerConfig{
			Port: uint16(port),
			Name: APP_NAME,
		},
		Storage: &models.StorageConfig{
			Path: storageDir,
		},
		Metrics: &models.MetricsConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    uint16(adminPort),
		},
		RateLimit: &models.RateLimitConfig{
			Enabled:  false,
			Requests: &requests,
			Window:   &window,
			KeyBy:    []string{ratelimit.KEY_TYPE_IP},
			Storage:  models.STORAGE_MEMORY,
			Headers: &models.RateLimitHeadersConfig{
				IncludeLimit:     true,
				IncludeRemaining: true,
				IncludeReset:     true,
			},
		},
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	f, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(defaultConfig); err != nil {
		return fmt.Errorf("unable to write the config at %s: %w", configPath, err)
	}
	return enc.Close()
}
