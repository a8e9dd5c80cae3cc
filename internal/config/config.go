// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
// Mutable gateway state (accounts, models, proxy) lives in the JSON account
// store file, not here.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"dev"`
	Port        int    `env:"PORT" envDefault:"8000"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"business-gemini-pool"`

	// StorePath is the JSON file holding accounts, models and proxy settings.
	StorePath string `env:"STORE_PATH" envDefault:"business_gemini_session.json"`

	// Vendor endpoints. VendorBaseURL is the widget API root, AuthBaseURL
	// serves the signing-key fetch.
	VendorBaseURL string `env:"VENDOR_BASE_URL" envDefault:"https://biz-discoveryengine.googleapis.com/v1alpha/locations/global"`
	AuthBaseURL   string `env:"AUTH_BASE_URL" envDefault:"https://business.gemini.google/auth"`

	// Image artifact cache.
	ImageCacheDir string        `env:"IMAGE_CACHE_DIR" envDefault:"image"`
	ImageCacheTTL time.Duration `env:"IMAGE_CACHE_TTL" envDefault:"1h"`

	// Fixed per-call-class vendor timeouts.
	AuthTimeout     time.Duration `env:"VENDOR_AUTH_TIMEOUT" envDefault:"30s"`
	UploadTimeout   time.Duration `env:"VENDOR_UPLOAD_TIMEOUT" envDefault:"60s"`
	StreamTimeout   time.Duration `env:"VENDOR_STREAM_TIMEOUT" envDefault:"120s"`
	VendorUserAgent string        `env:"VENDOR_USER_AGENT" envDefault:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36"`

	// Fixed query metadata the assist endpoint expects.
	VendorLanguageCode string `env:"VENDOR_LANGUAGE_CODE" envDefault:"zh-CN"`
	VendorTimeZone     string `env:"VENDOR_TIME_ZONE" envDefault:"Etc/GMT-8"`

	MaxUploadMB           int64         `env:"MAX_UPLOAD_MB" envDefault:"25"`
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"180s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }
