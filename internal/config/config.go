package config

import (
	"errors"
	"time"
)

// Config 应用配置根结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	AI       AIConfig       `mapstructure:"ai"`
	Log      LogConfig      `mapstructure:"log"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Backends BackendsConfig `mapstructure:"backends"`
	Generate GenerateConfig `mapstructure:"generate"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AIConfig 脚本分析 LLM 配置
type AIConfig struct {
	Provider string          `mapstructure:"provider"`
	APIKey   string          `mapstructure:"api_key"`
	Model    string          `mapstructure:"model"`
	BaseURL  string          `mapstructure:"base_url"`
	Options  AIOptionsConfig `mapstructure:"options"`
}

// AIOptionsConfig LLM 模型参数
type AIOptionsConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	TopP        float64 `mapstructure:"top_p"`
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
	JWTSecret         string        `mapstructure:"jwt_secret"`          // JWT密钥
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"` // Access Token过期时间
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

// BackendsConfig 外部生成后端配置
type BackendsConfig struct {
	Image ImageBackendConfig `mapstructure:"image"` // 分镜图生成（Ark Seedream）
	Video VideoBackendConfig `mapstructure:"video"` // 视频片段生成（Seedance）
	Music MusicBackendConfig `mapstructure:"music"` // 背景音乐生成
}

// ImageBackendConfig 图片生成后端配置
type ImageBackendConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// VideoBackendConfig 视频生成后端配置
type VideoBackendConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// MusicBackendConfig 音乐生成后端配置
type MusicBackendConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// GenerateConfig 批量生成编排配置
type GenerateConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`       // 批量生成最大并发外呼数
	StalenessWindow time.Duration `mapstructure:"staleness_window"`  // generating 占位记录的过期窗口
	PollInterval    time.Duration `mapstructure:"poll_interval"`     // 外部任务轮询间隔
	PollMaxWait     time.Duration `mapstructure:"poll_max_wait"`     // 单个外部任务最长等待时间
	MinClipDuration float64       `mapstructure:"min_clip_duration"` // 视频片段最短时长（秒）
	MaxClipDuration float64       `mapstructure:"max_clip_duration"` // 视频片段最长时长（秒）
	CreditsPerClip  int           `mapstructure:"credits_per_clip"`  // 每个视频片段消耗的积分
	CreditsPerImage int           `mapstructure:"credits_per_image"` // 每张分镜图消耗的积分
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

	if c.Generate.Concurrency <= 0 {
		return errors.New("generate.concurrency must be positive")
	}
	if c.Generate.StalenessWindow <= 0 {
		return errors.New("generate.staleness_window must be positive")
	}
	if c.Generate.MinClipDuration <= 0 || c.Generate.MaxClipDuration < c.Generate.MinClipDuration {
		return errors.New("invalid generate clip duration bounds")
	}

	return nil
}
