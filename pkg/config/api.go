package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	LogLevel           string
	ProjectsRoot       string
	ServerPoolFile     string
	DomainTLD          string
	StageDelay         time.Duration
	DeployTimeout      time.Duration
	DatabaseURL        string
	LogBuffer          int
	LogHistoryLimit    int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	MetricsEnabled     bool
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":5000"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		ProjectsRoot:       GetString("PROJECTS_ROOT", "./virtual-projects"),
		ServerPoolFile:     GetString("SERVER_POOL_FILE", ""),
		DomainTLD:          GetString("DOMAIN_TLD", "spheredev"),
		StageDelay:         GetDuration("STAGE_DELAY_MS", 500, time.Millisecond),
		DeployTimeout:      GetDuration("DEPLOY_TIMEOUT_SECONDS", 60, time.Second),
		DatabaseURL:        GetString("DATABASE_URL", ""),
		LogBuffer:          GetInt("WS_LOG_BUFFER", 100),
		LogHistoryLimit:    GetInt("LOG_HISTORY_LIMIT", 500),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		MetricsEnabled:     GetBool("METRICS_ENABLED", true),
	}
}
