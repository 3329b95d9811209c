package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"fronix-gateway/core/security"
)

// Provider 名称
const (
	ProviderPublic  = "public"
	ProviderGeneric = "generic"
	ProviderProA    = "pro-a"
	ProviderProB    = "pro-b"
	ProviderBeta    = "beta"
)

// ProviderConfig 单个上游 Provider 的配置
type ProviderConfig struct {
	Name      string
	Endpoint  string
	Keys      []string
	Anonymous bool // 允许无凭证访问
}

// Config 应用配置
type Config struct {
	Port     string
	LogLevel string
	LogFile  string
	LogMaxMB int

	Providers         map[string]ProviderConfig
	FallbackEndpoints []string
	RoutesFile        string

	RequestTimeout   time.Duration
	AffinityCooldown time.Duration
	FunctionMaxDepth int

	DBType string
	DBDSN  string

	JWTSecret      string
	CredentialsKey string

	ImgBBAPIKey   string
	ImgBBEndpoint string
	SearchAPIURL  string
	SearchAPIKey  string

	ImageModel     string
	ImageEditModel string

	ModelStatusSchedule string

	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

// Load 从环境变量加载配置，再用命令行参数覆盖
func Load() (*Config, error) {
	cfg := &Config{
		Port:                getEnvOrDefault("PORT", "3001"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:             getEnvOrDefault("LOG_FILE", "gateway.log"),
		LogMaxMB:            getEnvInt("LOG_MAX_MB", 50),
		FallbackEndpoints:   splitList(os.Getenv("FALLBACK_ENDPOINTS")),
		RoutesFile:          os.Getenv("ROUTES_FILE"),
		RequestTimeout:      getEnvDuration("REQUEST_TIMEOUT", 60*time.Second),
		AffinityCooldown:    getEnvDuration("AFFINITY_COOLDOWN", 60*time.Second),
		FunctionMaxDepth:    getEnvInt("FUNCTION_MAX_DEPTH", 3),
		DBType:              getEnvOrDefault("DB_TYPE", "sqlite"),
		DBDSN:               getEnvOrDefault("DB_DSN", "fronix.db"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		CredentialsKey:      os.Getenv("CREDENTIALS_KEY"),
		ImgBBAPIKey:         os.Getenv("IMGBB_API_KEY"),
		ImgBBEndpoint:       getEnvOrDefault("IMGBB_ENDPOINT", "https://api.imgbb.com/1/upload"),
		SearchAPIURL:        os.Getenv("SEARCH_API_URL"),
		SearchAPIKey:        os.Getenv("SEARCH_API_KEY"),
		ImageModel:          getEnvOrDefault("IMAGE_MODEL", "provider-3/dall-e-3"),
		ImageEditModel:      getEnvOrDefault("IMAGE_EDIT_MODEL", "provider-3/gpt-image-1"),
		ModelStatusSchedule: getEnvOrDefault("MODEL_STATUS_SCHEDULE", "@every 10m"),
		RateLimitRPS:        getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:      getEnvInt("RATE_LIMIT_BURST", 20),
		CORSOrigins:         splitList(getEnvOrDefault("CORS_ORIGINS", "http://localhost:3000,http://127.0.0.1:5500")),
	}

	flag.StringVar(&cfg.Port, "port", cfg.Port, "listen port")
	flag.StringVar(&cfg.RoutesFile, "routes", cfg.RoutesFile, "YAML routing table file")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.Parse()

	providers, err := loadProviders(cfg.CredentialsKey)
	if err != nil {
		return nil, err
	}
	cfg.Providers = providers

	// 公共匿名端点默认作为最后的兜底候选
	if public := providers[ProviderPublic].Endpoint; public != "" && !contains(cfg.FallbackEndpoints, public) {
		cfg.FallbackEndpoints = append(cfg.FallbackEndpoints, public)
	}

	return cfg, nil
}

// loadProviders 读取各 Provider 的端点与凭证列表
// 缺少凭证不在启动时报错，首次使用时才暴露
func loadProviders(credentialsKey string) (map[string]ProviderConfig, error) {
	var cc *security.CredentialCipher
	if credentialsKey != "" {
		c, err := security.NewCredentialCipher(credentialsKey)
		if err != nil {
			return nil, fmt.Errorf("invalid CREDENTIALS_KEY: %w", err)
		}
		cc = c
	}

	genericKeys := splitList(os.Getenv("AI_API_KEYS_V2"))
	for _, name := range []string{"AI_API_KEY_V2", "AI_API_KEY_V2_3", "AI_API_KEY_V2_4", "AI_API_KEY_V2_5"} {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" && !contains(genericKeys, v) {
			genericKeys = append(genericKeys, v)
		}
	}

	raw := []ProviderConfig{
		{Name: ProviderPublic, Endpoint: os.Getenv("AI_API_ENDPOINT"), Anonymous: true},
		{Name: ProviderGeneric, Endpoint: os.Getenv("AI_API_ENDPOINT_V2"), Keys: genericKeys},
		{Name: ProviderProA, Endpoint: os.Getenv("PRO_A_ENDPOINT"), Keys: splitList(os.Getenv("PRO_A_KEYS"))},
		{Name: ProviderProB, Endpoint: os.Getenv("PRO_B_ENDPOINT"), Keys: splitList(os.Getenv("PRO_B_KEYS"))},
		{Name: ProviderBeta, Endpoint: os.Getenv("BETA_ENDPOINT"), Keys: splitList(os.Getenv("BETA_KEYS"))},
	}

	providers := make(map[string]ProviderConfig, len(raw))
	for _, p := range raw {
		keys, err := decryptKeys(p.Keys, cc)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}
		p.Keys = keys
		providers[p.Name] = p
	}
	return providers, nil
}

func decryptKeys(keys []string, cc *security.CredentialCipher) ([]string, error) {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !security.IsEncrypted(k) {
			out = append(out, k)
			continue
		}
		if cc == nil {
			return nil, fmt.Errorf("encrypted credential found but CREDENTIALS_KEY is not set")
		}
		plain, err := cc.Decrypt(k)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt credential: %w", err)
		}
		out = append(out, plain)
	}
	return out, nil
}

func getEnvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return def
}

// splitList 解析逗号分隔的列表，忽略空项
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
