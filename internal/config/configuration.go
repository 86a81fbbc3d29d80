package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const ConfigurationTemplate = `{
  "environment": "development",
  "debug": true,
  "redis_host": "localhost",
  "redis_port": 6379,
  "redis_password": "",
  "redis_database": 0,
  "redis_enable_tls": false,
  "redis_connection_timeout_in_seconds": 5,
  "redis_maximum_retry_count": 3,
  "redis_retry_delay_in_milliseconds": 1000,
  "bit_store_backend": "redis",
  "bloom_expected_items": 1000000,
  "bloom_false_positive_rate": 0.001,
  "bloom_redis_key": "bloom:passwords",
  "bloom_position_scheme": "unsigned",
  "bloom_truncated_rounding": false,
  "bloom_verify_parameter_fingerprint": true,
  "server_host": "0.0.0.0",
  "server_port": 8000,
  "server_worker_count": 0,
  "cors_allowed_origins": ["*"],
  "authentication_secret": "",
  "operation_timeout_in_milliseconds": 2000,
  "positive_cache_capacity_count": 100000,
  "log_directory_path": "./logs",
  "log_severity_level": "INFO"
}`

const (
	DefaultRedisPort                    = 6379
	DefaultServerPort                   = 8000
	DefaultBloomExpectedItems           = 1_000_000
	DefaultBloomFalsePositiveRate       = 0.001
	DefaultBloomRedisKey                = "bloom:passwords"
	DefaultRedisRetryCount              = 3
	DefaultRedisRetryDelayInMillis      = 1000
	DefaultOperationTimeoutInMillis     = 2000
	DefaultPositiveCacheCapacityCount   = 100000
	DefaultRedisConnectionTimeoutInSecs = 5

	BitStoreBackendRedis  = "redis"
	BitStoreBackendMemory = "memory"
)

type SystemConfiguration struct {
	Environment string `json:"environment"`
	Debug       bool   `json:"debug"`

	RedisHost                        string `json:"redis_host"`
	RedisPort                        int    `json:"redis_port"`
	RedisPassword                    string `json:"redis_password"`
	RedisDatabase                    int    `json:"redis_database"`
	RedisEnableTls                   bool   `json:"redis_enable_tls"`
	RedisConnectionTimeoutInSeconds  int    `json:"redis_connection_timeout_in_seconds"`
	RedisMaximumRetryCount           int    `json:"redis_maximum_retry_count"`
	RedisRetryDelayInMilliseconds    int    `json:"redis_retry_delay_in_milliseconds"`
	BitStoreBackend                  string `json:"bit_store_backend"`

	BloomExpectedItems              uint64  `json:"bloom_expected_items"`
	BloomFalsePositiveRate          float64 `json:"bloom_false_positive_rate"`
	BloomRedisKey                   string  `json:"bloom_redis_key"`
	BloomPositionScheme             string  `json:"bloom_position_scheme"`
	BloomTruncatedRounding          bool    `json:"bloom_truncated_rounding"`
	BloomVerifyParameterFingerprint bool    `json:"bloom_verify_parameter_fingerprint"`

	ServerHost                     string   `json:"server_host"`
	ServerPort                     int      `json:"server_port"`
	ServerWorkerCount              int      `json:"server_worker_count"`
	CorsAllowedOrigins             []string `json:"cors_allowed_origins"`
	AuthenticationSecret           string   `json:"authentication_secret"`
	OperationTimeoutInMilliseconds int      `json:"operation_timeout_in_milliseconds"`
	PositiveCacheCapacityCount     int      `json:"positive_cache_capacity_count"`

	LogDirectoryPath string `json:"log_directory_path"`
	LogSeverityLevel string `json:"log_severity_level"`
}

func DefaultConfiguration() SystemConfiguration {
	return SystemConfiguration{
		Environment:                     "development",
		Debug:                           true,
		RedisHost:                       "localhost",
		RedisPort:                       DefaultRedisPort,
		RedisConnectionTimeoutInSeconds: DefaultRedisConnectionTimeoutInSecs,
		RedisMaximumRetryCount:          DefaultRedisRetryCount,
		RedisRetryDelayInMilliseconds:   DefaultRedisRetryDelayInMillis,
		BitStoreBackend:                 BitStoreBackendRedis,
		BloomExpectedItems:              DefaultBloomExpectedItems,
		BloomFalsePositiveRate:          DefaultBloomFalsePositiveRate,
		BloomRedisKey:                   DefaultBloomRedisKey,
		BloomPositionScheme:             "unsigned",
		BloomVerifyParameterFingerprint: true,
		ServerHost:                      "0.0.0.0",
		ServerPort:                      DefaultServerPort,
		CorsAllowedOrigins:              []string{"*"},
		OperationTimeoutInMilliseconds:  DefaultOperationTimeoutInMillis,
		PositiveCacheCapacityCount:      DefaultPositiveCacheCapacityCount,
		LogDirectoryPath:                "./logs",
		LogSeverityLevel:                "INFO",
	}
}

// LoadConfigurationFromFile layers defaults, then the JSON file at filePath
// (skipped when empty), then environment variables.
func LoadConfigurationFromFile(filePath string) (SystemConfiguration, error) {
	config := DefaultConfiguration()

	if filePath != "" {
		file, err := os.Open(filePath)
		if err != nil {
			return config, fmt.Errorf("failed to open configuration file: %w", err)
		}
		defer file.Close()

		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return config, fmt.Errorf("failed to decode configuration json: %w", err)
		}
	}

	if err := config.ApplyEnvironmentOverrides(os.LookupEnv); err != nil {
		return config, err
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// Validate rejects combinations that are legal field by field. A memory
// bit store is private to one process and cannot back production replicas.
func (c SystemConfiguration) Validate() error {
	if c.IsProduction() && c.BitStoreBackend == BitStoreBackendMemory {
		return fmt.Errorf("bit store backend %q is not allowed in %s", c.BitStoreBackend, c.Environment)
	}
	if c.ServerWorkerCount < 0 {
		return fmt.Errorf("server worker count %d must not be negative", c.ServerWorkerCount)
	}
	return nil
}

// EffectiveLogSeverityLevel is LogSeverityLevel, lowered to DEBUG when
// debug is on outside production.
func (c SystemConfiguration) EffectiveLogSeverityLevel() string {
	if c.Debug && !c.IsProduction() {
		return "DEBUG"
	}
	return c.LogSeverityLevel
}

// ApplyEnvironmentOverrides reads the variables named below through lookup.
// Empty values leave the current setting untouched, except REDIS_PASSWORD
// and AUTH_SECRET where empty means "none". API_KEY is read when
// AUTH_SECRET is absent.
func (c *SystemConfiguration) ApplyEnvironmentOverrides(lookup func(string) (string, bool)) error {
	overrides := []struct {
		name  string
		apply func(string) error
	}{
		{"ENVIRONMENT", func(v string) error { c.Environment = v; return nil }},
		{"DEBUG", boolSetter(&c.Debug)},
		{"REDIS_HOST", func(v string) error { c.RedisHost = v; return nil }},
		{"REDIS_PORT", intSetter(&c.RedisPort)},
		{"REDIS_DB", intSetter(&c.RedisDatabase)},
		{"REDIS_SSL", boolSetter(&c.RedisEnableTls)},
		{"REDIS_CONNECTION_TIMEOUT", intSetter(&c.RedisConnectionTimeoutInSeconds)},
		{"REDIS_MAX_RETRIES", intSetter(&c.RedisMaximumRetryCount)},
		{"REDIS_RETRY_DELAY_MS", intSetter(&c.RedisRetryDelayInMilliseconds)},
		{"BIT_STORE_BACKEND", func(v string) error { c.BitStoreBackend = strings.ToLower(v); return nil }},
		{"BLOOM_EXPECTED_ITEMS", uintSetter(&c.BloomExpectedItems)},
		{"BLOOM_FALSE_POSITIVE_RATE", floatSetter(&c.BloomFalsePositiveRate)},
		{"BLOOM_REDIS_KEY", func(v string) error { c.BloomRedisKey = v; return nil }},
		{"BLOOM_POSITION_SCHEME", func(v string) error { c.BloomPositionScheme = v; return nil }},
		{"API_HOST", func(v string) error { c.ServerHost = v; return nil }},
		{"API_PORT", intSetter(&c.ServerPort)},
		{"API_WORKERS", intSetter(&c.ServerWorkerCount)},
		{"CORS_ORIGINS", func(v string) error { c.CorsAllowedOrigins = splitOrigins(v); return nil }},
		{"LOG_DIR", func(v string) error { c.LogDirectoryPath = v; return nil }},
		{"LOG_LEVEL", func(v string) error { c.LogSeverityLevel = v; return nil }},
	}

	for _, o := range overrides {
		value, ok := lookup(o.name)
		if !ok || value == "" {
			continue
		}
		if err := o.apply(value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", o.name, err)
		}
	}

	if value, ok := lookup("REDIS_PASSWORD"); ok {
		c.RedisPassword = value
	}
	if value, ok := lookup("AUTH_SECRET"); ok {
		c.AuthenticationSecret = value
	} else if value, ok := lookup("API_KEY"); ok {
		c.AuthenticationSecret = value
	}
	return nil
}

func (c SystemConfiguration) IsProduction() bool {
	switch strings.ToLower(c.Environment) {
	case "production", "prod":
		return true
	}
	return false
}

func (c SystemConfiguration) IsDevelopment() bool {
	switch strings.ToLower(c.Environment) {
	case "development", "dev", "local":
		return true
	}
	return false
}

// RedisURL renders redis[s]://[:password@]host:port/db.
func (c SystemConfiguration) RedisURL() string {
	u := url.URL{
		Scheme: "redis",
		Host:   net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort)),
		Path:   "/" + strconv.Itoa(c.RedisDatabase),
	}
	if c.RedisEnableTls {
		u.Scheme = "rediss"
	}
	if c.RedisPassword != "" {
		u.User = url.UserPassword("", c.RedisPassword)
	}
	return u.String()
}

func (c SystemConfiguration) ServerAddress() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

func splitOrigins(value string) []string {
	if strings.HasPrefix(strings.TrimSpace(value), "[") {
		var list []string
		if err := json.Unmarshal([]byte(value), &list); err == nil {
			return list
		}
	}
	var origins []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func boolSetter(target *bool) func(string) error {
	return func(v string) error {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*target = parsed
		return nil
	}
}

func intSetter(target *int) func(string) error {
	return func(v string) error {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*target = parsed
		return nil
	}
}

func uintSetter(target *uint64) func(string) error {
	return func(v string) error {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return err
		}
		*target = parsed
		return nil
	}
}

func floatSetter(target *float64) func(string) error {
	return func(v string) error {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*target = parsed
		return nil
	}
}
