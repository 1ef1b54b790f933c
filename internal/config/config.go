package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port             int
	NatsURL          string
	NatsToken        string
	DatabaseURL      string
	LogLevel         string
	OpenAIAPIKey     string
	OpenAIModel      string
	ZapierMCPURL     string
	ZapierMCPToken   string
	ConnectorTimeout int
	TemplatesPath    string
	HistoryLimit     int
	APIToken         string
}

func Load() Config {
	return Config{
		Port:             envInt("BARTLEBY_PORT", 8760),
		NatsURL:          envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:        envStr("NATS_TOKEN", ""),
		DatabaseURL:      envStr("DATABASE_URL", ""),
		LogLevel:         envStr("LOG_LEVEL", "info"),
		OpenAIAPIKey:     envStr("OPENAI_API_KEY", ""),
		OpenAIModel:      envStr("BARTLEBY_MODEL", "gpt-4o"),
		ZapierMCPURL:     envStr("ZAPIER_MCP_URL", ""),
		ZapierMCPToken:   envStr("ZAPIER_MCP_TOKEN", ""),
		ConnectorTimeout: envInt("BARTLEBY_CONNECTOR_TIMEOUT", 45),
		TemplatesPath:    envStr("BARTLEBY_TEMPLATES_PATH", ""),
		HistoryLimit:     envInt("BARTLEBY_HISTORY_LIMIT", 10),
		APIToken:         envStr("BARTLEBY_API_TOKEN", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
