package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Webhook  WebhookConfig
	Auth     AuthConfig
	Sessions SessionConfig
	Log      LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	webhook, err := loadWebhookConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	log, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Webhook:  webhook,
		Auth:     auth,
		Sessions: SessionConfig{StorePath: strings.TrimSpace(os.Getenv("SESSION_STORE_PATH"))},
		Log:      log,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := parseListEnv("CORS_ALLOWED_ORIGINS")
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// WebhookConfig 描述外部工作流 webhook。URL 为空时进入演示模式。
type WebhookConfig struct {
	URL         string
	HistoryPath string
	Timeout     time.Duration
}

// Enabled 表示是否配置了 webhook 地址。
func (c WebhookConfig) Enabled() bool {
	return c.URL != ""
}

// LoadWebhook 只加载 webhook 配置，供不需要认证的工具使用。
func LoadWebhook() (WebhookConfig, error) {
	return loadWebhookConfig()
}

func loadWebhookConfig() (WebhookConfig, error) {
	rawURL := strings.TrimSpace(os.Getenv("N8N_WEBHOOK_URL"))
	if rawURL != "" {
		parsed, err := url.Parse(rawURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return WebhookConfig{}, fmt.Errorf("invalid N8N_WEBHOOK_URL value %q", rawURL)
		}
	}

	timeoutSeconds := 60
	if override, err := parseOptionalIntEnv("WEBHOOK_TIMEOUT"); err != nil {
		return WebhookConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return WebhookConfig{}, fmt.Errorf("invalid WEBHOOK_TIMEOUT value %d: must be positive", *override)
		}
		timeoutSeconds = *override
	}

	return WebhookConfig{
		URL:         rawURL,
		HistoryPath: getEnvOrDefault("N8N_HISTORY_PATH", "/webhook/chat-history"),
		Timeout:     time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// AuthConfig 描述会话令牌校验。
type AuthConfig struct {
	Secret   string
	Required bool
}

func loadAuthConfig() (AuthConfig, error) {
	required, err := parseBoolEnv("AUTH_REQUIRED", true)
	if err != nil {
		return AuthConfig{}, err
	}

	secret := strings.TrimSpace(os.Getenv("AUTH_SECRET"))
	if required && secret == "" {
		return AuthConfig{}, fmt.Errorf("AUTH_SECRET is required when AUTH_REQUIRED is true")
	}

	return AuthConfig{Secret: secret, Required: required}, nil
}

// SessionConfig 选择会话列表的存储方式，StorePath 为空时使用内存。
type SessionConfig struct {
	StorePath string
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() (LogConfig, error) {
	format := strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json"))
	if format != "json" && format != "console" {
		return LogConfig{}, fmt.Errorf("invalid LOG_FORMAT value %q", format)
	}
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: format,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseListEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}

	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
