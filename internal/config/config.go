package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 ChainInsight 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Log       LogConfig       `json:"log"`
	LLM       LLMConfig       `json:"llm"`
	Market    MarketConfig    `json:"market"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Web3      Web3Config      `json:"web3"`
	Session   SessionConfig   `json:"session"`
	Outbox    OutboxConfig    `json:"outbox"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// MetricsConfig 控制独立的指标暴露端口，为空时只在主端口暴露 /metrics。
type MetricsConfig struct {
	Address string `json:"address"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// LogConfig 控制结构化日志与审计日志的输出。
type LogConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审批轨迹日志的落盘与轮转。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口所需的信息。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回以秒为单位配置的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MarketConfig 配置行情数据源的抓取范围。
type MarketConfig struct {
	Chain          string `json:"chain"`
	Limit          int    `json:"limit"`
	APIBase        string `json:"api_base"`
	YieldsBase     string `json:"yields_base"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回行情请求的超时时间。
func (c MarketConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// KnowledgeConfig 配置回退路径使用的静态知识库。
type KnowledgeConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// Web3Config 包含链上只读访问与合约注册表的配置。
type Web3Config struct {
	RPCURL        string `json:"rpc_url"`
	ContractsPath string `json:"contracts_path"`
	FromAddress   string `json:"from_address"`
}

// SessionConfig 选择会话存储后端。
type SessionConfig struct {
	Driver string      `json:"driver"`
	DSN    string      `json:"dsn"`
	Redis  RedisConfig `json:"redis"`
}

// OutboxConfig 选择审批通过批次的投递通道。
type OutboxConfig struct {
	Driver   string         `json:"driver"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 统一描述 Redis 连接参数。
type RedisConfig struct {
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	Queue      string `json:"queue"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// TTL 返回以秒为单位配置的过期时间。
func (c RedisConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// PipelineConfig 控制推理流水线的运行参数。
type PipelineConfig struct {
	StageTimeoutSeconds int `json:"stage_timeout_seconds"`
}

// StageTimeout 返回单个推理阶段的超时时间。
func (c PipelineConfig) StageTimeout() time.Duration {
	if c.StageTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Audit.Path != "" && !filepath.IsAbs(c.Log.Audit.Path) {
		c.Log.Audit.Path = filepath.Join(baseDir, c.Log.Audit.Path)
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}

	if c.Market.Chain == "" {
		c.Market.Chain = "Base"
	}
	if c.Market.Limit <= 0 {
		c.Market.Limit = 10
	}

	if c.Knowledge.Source != "" && !filepath.IsAbs(c.Knowledge.Source) {
		c.Knowledge.Source = filepath.Join(baseDir, c.Knowledge.Source)
	}

	if c.Web3.ContractsPath != "" && !filepath.IsAbs(c.Web3.ContractsPath) {
		c.Web3.ContractsPath = filepath.Join(baseDir, c.Web3.ContractsPath)
	}

	if c.Session.Driver == "" {
		c.Session.Driver = "memory"
	}
	if c.Outbox.Driver == "" {
		c.Outbox.Driver = "memory"
	}
	if c.Outbox.Buffer <= 0 {
		c.Outbox.Buffer = 64
	}
}
