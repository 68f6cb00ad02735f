// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/hitoshi/mcwhitelist/internal/schema"
)

// DefaultDotEnvPath は起動時に読み込む.envファイルのパス。
const DefaultDotEnvPath = ".env"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	BaseURL    string `env:"BASE_URL,required,notEmpty"`
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	// Session endpoint
	BackendURL      string        `env:"BACKEND_URL"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`
	FetchMaxSize    int64         `env:"FETCH_MAX_SIZE" envDefault:"1048576"`
	PayloadLogLimit int           `env:"PAYLOAD_LOG_LIMIT" envDefault:"512"`
	SchemaEngine    string        `env:"SCHEMA_ENGINE" envDefault:"jsonschema"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Rate Limit (req/min per client)
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`

	// Tracing
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load は.envファイル（存在する場合）と環境変数からConfigを読み込む。
// 同じキーが両方にある場合は環境変数を優先する。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	return LoadFile(DefaultDotEnvPath)
}

// LoadFile は指定パスの.envファイルと環境変数からConfigを読み込む。
// ファイルが存在しない場合は環境変数のみを使用する。
func LoadFile(dotEnvPath string) (*Config, error) {
	environ := map[string]string{}
	if dotEnvPath != "" {
		fileVars, err := godotenv.Read(dotEnvPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", dotEnvPath, err)
		}
		for k, v := range fileVars {
			environ[k] = v
		}
	}
	for k, v := range env.ToMap(os.Environ()) {
		environ[k] = v
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		if missing := missingVars(err); len(missing) > 0 {
			return nil, fmt.Errorf("required environment variables are not set: %v", missing)
		}
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BackendURL == "" {
		cfg.BackendURL = cfg.BaseURL + "/backend"
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// BaseOrigin はBASE_URLをパースして返す。Load済みのConfigでは失敗しない。
func (c *Config) BaseOrigin() *url.URL {
	u, _ := url.Parse(c.BaseURL)
	return u
}

// TracingEnabled はトレースのエクスポートが有効かを返す。
func (c *Config) TracingEnabled() bool {
	return c.OTelEnabled && c.OTelEndpoint != ""
}

func (c *Config) validate() error {
	if err := validateHTTPURL("BASE_URL", c.BaseURL); err != nil {
		return err
	}
	if err := validateHTTPURL("BACKEND_URL", c.BackendURL); err != nil {
		return err
	}
	if !schema.IsKnownEngine(c.SchemaEngine) {
		return fmt.Errorf("SCHEMA_ENGINE must be %q or %q, got %q", schema.EngineJSONSchema, schema.EngineStruct, c.SchemaEngine)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout)
	}
	if c.FetchMaxSize <= 0 {
		return fmt.Errorf("FETCH_MAX_SIZE must be positive, got %d", c.FetchMaxSize)
	}
	if c.RateLimitGeneral <= 0 {
		return fmt.Errorf("RATE_LIMIT_GENERAL must be positive, got %d", c.RateLimitGeneral)
	}
	return nil
}

func validateHTTPURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme, got %q", key, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	return nil
}

// missingVars はenvのエラーから未設定の必須環境変数名を取り出す。
func missingVars(err error) []string {
	var errs []error
	var agg env.AggregateError
	if errors.As(err, &agg) {
		errs = agg.Errors
	} else {
		errs = []error{err}
	}

	var missing []string
	for _, e := range errs {
		var notSet env.EnvVarIsNotSetError
		var empty env.EmptyEnvVarError
		switch {
		case errors.As(e, &notSet):
			missing = append(missing, notSet.Key)
		case errors.As(e, &empty):
			missing = append(missing, empty.Key)
		}
	}
	return missing
}
