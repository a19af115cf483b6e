package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mining_keeper/internal/utils"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Files    FilesConfig    `yaml:"files"`
	Limits   LimitsConfig   `yaml:"limits"`
	Task     TaskConfig     `yaml:"task"`
	Claim    ClaimConfig    `yaml:"claim"`
	Provider ProviderConfig `yaml:"provider"`
}

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

// FilesConfig 三个行式输入文件的路径，行号即账号序号。
type FilesConfig struct {
	ProxyPath    string `yaml:"proxyPath"`
	TokenPath    string `yaml:"tokenPath"`
	UniqueIDPath string `yaml:"uniqueIdPath"`
}

type LimitsConfig struct {
	GlobalQPS   float64 `yaml:"globalQPS"`
	GlobalBurst int     `yaml:"globalBurst"`
}

type TaskConfig struct {
	PollIntervalMs int `yaml:"pollIntervalMs"`
}

func (c TaskConfig) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

type ClaimConfig struct {
	// Threshold 上游未公开单位的领取阈值，严格大于才触发领取。
	Threshold float64 `yaml:"threshold"`
}

type ProviderConfig struct {
	BaseURL   string           `yaml:"baseURL"`
	TimeoutMs int              `yaml:"timeoutMs"`
	Retry     ProviderRetryCfg `yaml:"retry"`
	UserAgent string           `yaml:"userAgent"`
}

type ProviderRetryCfg struct {
	Count     int `yaml:"count"`
	WaitMs    int `yaml:"waitMs"`
	MaxWaitMs int `yaml:"maxWaitMs"`
}

func (c ProviderConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c ProviderRetryCfg) Wait() time.Duration {
	if c.WaitMs <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.WaitMs) * time.Millisecond
}

func (c ProviderRetryCfg) MaxWait() time.Duration {
	if c.MaxWaitMs <= 0 {
		return 1200 * time.Millisecond
	}
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/mining_keeper.db"
	}
	if c.Files.ProxyPath == "" {
		c.Files.ProxyPath = "./proxy.txt"
	}
	if c.Files.TokenPath == "" {
		c.Files.TokenPath = "./token.txt"
	}
	if c.Files.UniqueIDPath == "" {
		c.Files.UniqueIDPath = "./unique_id.txt"
	}
	if c.Limits.GlobalQPS <= 0 {
		c.Limits.GlobalQPS = 5
	}
	if c.Limits.GlobalBurst <= 0 {
		c.Limits.GlobalBurst = 10
	}
	if c.Claim.Threshold <= 0 {
		c.Claim.Threshold = 10
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "http://127.0.0.1:8080/mock"
	}
	c.Provider.UserAgent = utils.NormalizeBrowserUserAgent(c.Provider.UserAgent)
	if c.Provider.Retry.Count < 0 {
		c.Provider.Retry.Count = 0
	}
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Provider.BaseURL == "" {
		return errors.New("provider.baseURL is required")
	}
	return nil
}
