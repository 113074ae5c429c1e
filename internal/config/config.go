package config

import (
	"errors"
	"time"
)

// Config 应用配置根结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	AI        AIConfig        `mapstructure:"ai"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Log       LogConfig       `mapstructure:"log"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AIConfig 补全模型配置
// API Key 不在这里配置——每次调用使用凭证池分配的 secret
type AIConfig struct {
	Provider    string          `mapstructure:"provider"` // openai/azure/ark
	Model       string          `mapstructure:"model"`
	BaseURL     string          `mapstructure:"base_url"`
	CallTimeout time.Duration   `mapstructure:"call_timeout"` // 单次补全调用的硬超时
	Options     AIOptionsConfig `mapstructure:"options"`
}

// AIOptionsConfig 模型参数
type AIOptionsConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	TopP        float64 `mapstructure:"top_p"`
}

// EmbeddingConfig 向量模型配置
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"` // openai/ark
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// PoolConfig 凭证池配置
type PoolConfig struct {
	DefaultCapacity int           `mapstructure:"default_capacity"` // 新建 token 的默认并发容量
	Cooldown        time.Duration `mapstructure:"cooldown"`         // 调用失败后 token 的冷却时间
	AssignmentTTL   time.Duration `mapstructure:"assignment_ttl"`   // 空闲分配的回收时间
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`   // 后台回收扫描间隔
}

// ChatConfig 对话编排配置
type ChatConfig struct {
	HistoryPairs int           `mapstructure:"history_pairs"` // 上下文窗口内的消息对数
	MaxAttempts  int           `mapstructure:"max_attempts"`  // 补全调用最大尝试次数
	RetryBackoff time.Duration `mapstructure:"retry_backoff"` // 重试退避基准（指数递增）
}

// RetrievalConfig 语义检索配置
type RetrievalConfig struct {
	TopK     int     `mapstructure:"top_k"`     // 附加到回复的最大商品数
	MinScore float64 `mapstructure:"min_score"` // 相似度阈值，低于则丢弃
}

// LogConfig 日志配置 (Zerolog)
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	TimeFormat string `mapstructure:"time_format"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	MinPoolSize uint64 `mapstructure:"min_pool_size"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret          string        `mapstructure:"jwt_secret"`           // JWT密钥
	AccessTokenExpiry  time.Duration `mapstructure:"access_token_expiry"`  // Access Token过期时间
	RefreshTokenExpiry time.Duration `mapstructure:"refresh_token_expiry"` // Refresh Token过期时间
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type  string       `mapstructure:"type"` // local, oss
	Local *LocalConfig `mapstructure:"local,omitempty"`
	OSS   *OSSConfig   `mapstructure:"oss,omitempty"`
}

// LocalConfig 本地文件系统配置
type LocalConfig struct {
	BasePath      string `mapstructure:"base_path"`      // 基础路径
	BaseURL       string `mapstructure:"base_url"`       // 基础URL（用于生成访问URL）
	PresignExpiry int    `mapstructure:"presign_expiry"` // 预签名URL过期时间（秒）
}

// OSSConfig 阿里云OSS配置
type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`          // OSS端点
	Bucket          string `mapstructure:"bucket"`            // Bucket名称
	AccessKeyID     string `mapstructure:"access_key_id"`     // AccessKey ID
	AccessKeySecret string `mapstructure:"access_key_secret"` // AccessKey Secret
	PresignExpiry   int    `mapstructure:"presign_expiry"`    // 预签名URL过期时间（秒）
}

// Validate 验证配置有效性
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	validModes := map[string]bool{"debug": true, "release": true, "test": true}
	if !validModes[c.Server.Mode] {
		return errors.New("invalid server mode, must be debug/release/test")
	}

	if c.Pool.DefaultCapacity < 1 {
		return errors.New("pool.default_capacity must be at least 1")
	}
	if c.Chat.MaxAttempts < 1 {
		return errors.New("chat.max_attempts must be at least 1")
	}

	return nil
}
