package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	defaultRegion  = "us-east-1"
	defaultModelID = "anthropic.claude-3-sonnet-20240229-v1:0"

	// DefaultFallbackMessage 上游没有产出任何文本时返回给客户端的提示。
	DefaultFallbackMessage = "I couldn't find specific information about this in the Bhagavad Gita. Could you try rephrasing your question?"
	// DefaultErrorMessage 500 响应体中的 error 字段。
	DefaultErrorMessage = "Failed to process your request with the Bhagavad Gita knowledge base"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server        ServerConfig
	KnowledgeBase KnowledgeBaseConfig
	Relay         RelayConfig
	Log           LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:        server,
		KnowledgeBase: loadKnowledgeBaseConfig(),
		Relay:         loadRelayConfig(),
		Log:           logCfg,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// KnowledgeBaseConfig 描述 Bedrock 知识库相关配置。
//
// KnowledgeBaseID 缺失时服务仍然可以启动，但每个聊天请求都会在调用上游之前失败。
type KnowledgeBaseConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	KnowledgeBaseID string
	ModelID         string
}

// Configured 表示是否提供了知识库 ID。
func (c KnowledgeBaseConfig) Configured() bool {
	return c.KnowledgeBaseID != ""
}

// StaticCredentials reports whether an explicit key pair was supplied; otherwise
// the SDK default credential chain is used.
func (c KnowledgeBaseConfig) StaticCredentials() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

func loadKnowledgeBaseConfig() KnowledgeBaseConfig {
	return KnowledgeBaseConfig{
		Region:          getEnvOrDefault("AWS_REGION", defaultRegion),
		AccessKeyID:     strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY")),
		SessionToken:    strings.TrimSpace(os.Getenv("AWS_SESSION_TOKEN")),
		KnowledgeBaseID: strings.TrimSpace(os.Getenv("AWS_BEDROCK_KNOWLEDGE_BASE_ID")),
		ModelID:         getEnvOrDefault("AWS_BEDROCK_MODEL_ID", defaultModelID),
	}
}

// RelayConfig 描述流式转发的固定文案。
type RelayConfig struct {
	FallbackMessage string
	ErrorMessage    string
}

func loadRelayConfig() RelayConfig {
	return RelayConfig{
		FallbackMessage: getEnvOrDefault("RELAY_FALLBACK_MESSAGE", DefaultFallbackMessage),
		ErrorMessage:    getEnvOrDefault("RELAY_ERROR_MESSAGE", DefaultErrorMessage),
	}
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level   zerolog.Level
	Console bool
}

func loadLogConfig() (LogConfig, error) {
	raw := getEnvOrDefault("LOG_LEVEL", "info")
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value %q: %w", raw, err)
	}

	format := strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json"))
	switch format {
	case "json", "console":
	default:
		return LogConfig{}, fmt.Errorf("invalid LOG_FORMAT value %q", format)
	}

	return LogConfig{Level: level, Console: format == "console"}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}
