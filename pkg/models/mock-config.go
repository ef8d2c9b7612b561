package models

import "time"

const (
	STORAGE_MEMORY = "memory"
	STORAGE_REDIS  = "redis"
)

type LogConfig struct {
	ToFile       bool   `yaml:"toFile"`
	FilePath     string `yaml:"filePath"`
	ToStdout     bool   `yaml:"toStdout"`
	Prefix       string `yaml:"prefix"`
	DebugEnabled bool   `yaml:"debugEnabled"`
	JSON         bool   `yaml:"json"`
}

type ServerConfig struct {
	Host               string `yaml:"host"`
	Port               uint16 `yaml:"port"`
	Name               string `yaml:"name"`
	MaxRequestBodySize int    `yaml:"maxRequestBodySize"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    uint16 `yaml:"port"`
}

type RedisConfig struct {
	Address      string        `yaml:"address"`
	Password     string        `yaml:"password"`
	DB           *int          `yaml:"db"`
	KeyNamespace string        `yaml:"keyNamespace"`
	FailOpen     *bool         `yaml:"failOpen"`
	Timeout      time.Duration `yaml:"timeout"`
}

type RateLimitHeadersConfig struct {
	IncludeLimit     bool `yaml:"includeLimit"`
	IncludeRemaining bool `yaml:"includeRemaining"`
	IncludeReset     bool `yaml:"includeReset"`
}

// RateLimitConfig drives the optional throttling layer in front of the
// mock routes. Pointer fields distinguish "unset" from zero values.
type RateLimitConfig struct {
	Enabled    bool                    `yaml:"enabled"`
	Requests   *int64                  `yaml:"requests"`
	Window     *time.Duration          `yaml:"window"`
	KeyBy      []string                `yaml:"keyBy"`
	StatusCode *int                    `yaml:"statusCode"`
	Message    string                  `yaml:"message"`
	Headers    *RateLimitHeadersConfig `yaml:"headers"`
	Storage    string                  `yaml:"storage"`
	Redis      *RedisConfig            `yaml:"redis"`
}

type MockConfig struct {
	Log       *LogConfig       `yaml:"log"`
	Server    *ServerConfig    `yaml:"server"`
	Storage   *StorageConfig   `yaml:"storage"`
	Metrics   *MetricsConfig   `yaml:"metrics"`
	RateLimit *RateLimitConfig `yaml:"rateLimit"`
}
