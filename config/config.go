package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"portfolio-beacon/utils"
)

// DefaultEndpoint is the form endpoint used when neither the config file nor
// the environment supplies one.
const DefaultEndpoint = "https://script.google.com/macros/s/AKfycbzkVg6x347o1BHqIG5Jqtsv-wxJmGgulMlHcoInlLg2OvKnZuNF9BRU5KotaAsNZKw/exec"

const (
	defaultHost           = "0.0.0.0"
	defaultPort           = "8080"
	defaultEnv            = "development"
	defaultSiteDir        = "./web"
	defaultSiteIndex      = "index.html"
	defaultSiteTitle      = "Portfolio"
	defaultGeoPrimaryURL  = "https://ipapi.co/{ip}/json/"
	defaultGeoFallbackURL = "https://ipinfo.io/{ip}/json"
	defaultHTTPTimeout    = 10 * time.Second
	defaultSessionBackend = "memory"
	defaultSessionTTL     = 12 * time.Hour
	defaultMaxSessions    = 100000
	defaultCookieName     = "beacon_sid"
	defaultRedisAddress   = "localhost:6379"
	defaultSMTPPort       = 587
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
)

// Session storage backends.
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	App struct {
		Env string `yaml:"env"`
	} `yaml:"app"`

	Site SiteConfig `yaml:"site"`

	Tracking TrackingConfig `yaml:"tracking"`

	Session SessionConfig `yaml:"session"`

	Redis RedisConfig `yaml:"redis"`

	SMTP SMTPConfig `yaml:"smtp"`

	// Notify emails the site owner whenever a new visitor session is tracked.
	Notify struct {
		Enabled bool     `yaml:"enabled"`
		To      []string `yaml:"to"`
	} `yaml:"notify"`

	Mixpanel struct {
		Token string `yaml:"token"`
	} `yaml:"mixpanel"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// SiteConfig describes the pre-built static portfolio site.
type SiteConfig struct {
	Dir   string `yaml:"dir"`
	Index string `yaml:"index"`
	Title string `yaml:"title"`
}

// TrackingConfig holds the beacon destination and geolocation tiers.
type TrackingConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	GeoPrimaryURL  string        `yaml:"geo_primary_url"`
	GeoFallbackURL string        `yaml:"geo_fallback_url"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
}

type SessionConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`

	// MaxEntries bounds the memory backend; the oldest flags are evicted first.
	MaxEntries int    `yaml:"max_entries"`
	CookieName string `yaml:"cookie_name"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// ValidationError reports a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadConfig reads the YAML file at configPath (skipped when empty), applies
// defaults and then environment overrides. .env files in the working
// directory are loaded first.
func LoadConfig(configPath string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	config := &Config{}

	if configPath != "" {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("open config %s: %w", configPath, err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", configPath, err)
		}
	}

	config.setDefaults()
	config.overrideWithEnvVars()

	return config, nil
}

func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}

	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = defaultHost
	}
	if c.Server.Port == "" {
		c.Server.Port = defaultPort
	}
	if c.App.Env == "" {
		c.App.Env = defaultEnv
	}

	if c.Site.Dir == "" {
		c.Site.Dir = defaultSiteDir
	}
	if c.Site.Index == "" {
		c.Site.Index = defaultSiteIndex
	}
	if c.Site.Title == "" {
		c.Site.Title = defaultSiteTitle
	}

	if c.Tracking.Endpoint == "" {
		c.Tracking.Endpoint = DefaultEndpoint
	}
	if c.Tracking.GeoPrimaryURL == "" {
		c.Tracking.GeoPrimaryURL = defaultGeoPrimaryURL
	}
	if c.Tracking.GeoFallbackURL == "" {
		c.Tracking.GeoFallbackURL = defaultGeoFallbackURL
	}
	if c.Tracking.HTTPTimeout == 0 {
		c.Tracking.HTTPTimeout = defaultHTTPTimeout
	}

	if c.Session.Backend == "" {
		c.Session.Backend = defaultSessionBackend
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = defaultSessionTTL
	}
	if c.Session.MaxEntries == 0 {
		c.Session.MaxEntries = defaultMaxSessions
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = defaultCookieName
	}

	if c.Redis.Address == "" {
		c.Redis.Address = defaultRedisAddress
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = defaultSMTPPort
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

func (c *Config) overrideWithEnvVars() {
	if port := GetEnv("PORT", ""); port != "" {
		c.Server.Port = port
	}
	if host := GetEnv("HOST", ""); host != "" {
		c.Server.Host = host
	}
	if env := GetEnv("APP_ENV", ""); env != "" {
		c.App.Env = env
	}

	if dir := GetEnv("SITE_DIR", ""); dir != "" {
		c.Site.Dir = dir
	}
	if title := GetEnv("SITE_TITLE", ""); title != "" {
		c.Site.Title = title
	}

	// TRACKING_ENDPOINT wins over the build-time variable the static bundle uses.
	if endpoint := GetEnv("VITE_GS_SCRIPT_URL", ""); endpoint != "" {
		c.Tracking.Endpoint = endpoint
	}
	if endpoint, ok := os.LookupEnv("TRACKING_ENDPOINT"); ok {
		c.Tracking.Endpoint = endpoint
	}
	if primary := GetEnv("GEO_PRIMARY_URL", ""); primary != "" {
		c.Tracking.GeoPrimaryURL = primary
	}
	if fallback := GetEnv("GEO_FALLBACK_URL", ""); fallback != "" {
		c.Tracking.GeoFallbackURL = fallback
	}

	if backend := GetEnv("SESSION_BACKEND", ""); backend != "" {
		c.Session.Backend = backend
	}
	if ttl := GetEnv("SESSION_TTL", ""); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			c.Session.TTL = d
		} else {
			log.Printf("WARNING: ignoring invalid SESSION_TTL %q: %v", ttl, err)
		}
	}

	if addr := GetEnv("REDIS_ADDRESS", ""); addr != "" {
		c.Redis.Address = addr
	}
	if password := GetEnv("REDIS_PASSWORD", ""); password != "" {
		c.Redis.Password = password
	}
	if db := GetEnv("REDIS_DB", ""); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			c.Redis.DB = n
		}
	}

	if smtpHost := GetEnv("SMTP_HOST", ""); smtpHost != "" {
		c.SMTP.Host = smtpHost
	}
	if smtpUser := GetEnv("SMTP_USERNAME", ""); smtpUser != "" {
		c.SMTP.Username = smtpUser
	}
	if smtpPassword := GetEnv("SMTP_PASSWORD", ""); smtpPassword != "" {
		c.SMTP.Password = smtpPassword
	}
	if notifyTo := GetEnv("NOTIFY_TO", ""); notifyTo != "" {
		c.Notify.Enabled = true
		c.Notify.To = nil
		for _, to := range strings.Split(notifyTo, ",") {
			if to = strings.TrimSpace(to); to != "" {
				c.Notify.To = append(c.Notify.To, to)
			}
		}
	}

	if token := GetEnv("MIXPANEL_TOKEN", ""); token != "" {
		c.Mixpanel.Token = token
	}

	if level := GetEnv("LOG_LEVEL", ""); level != "" {
		c.Logging.Level = level
	}
	if format := GetEnv("LOG_FORMAT", ""); format != "" {
		c.Logging.Format = format
	}
}

// Validate checks the fields the server cannot start without. An empty
// tracking endpoint is valid: the beacon then skips transmission.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return &ValidationError{Field: "server.port", Message: "must be between 1 and 65535"}
	}

	if c.Tracking.Endpoint != "" {
		if u, err := url.Parse(c.Tracking.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			return &ValidationError{Field: "tracking.endpoint", Message: "must be an absolute URL"}
		}
	}
	if c.Tracking.HTTPTimeout < 0 {
		return &ValidationError{Field: "tracking.http_timeout", Message: "must not be negative"}
	}

	switch c.Session.Backend {
	case SessionBackendMemory, SessionBackendRedis:
	default:
		return &ValidationError{Field: "session.backend", Message: "must be one of: memory, redis"}
	}
	if c.Session.TTL < 0 {
		return &ValidationError{Field: "session.ttl", Message: "must not be negative"}
	}
	if c.Session.MaxEntries < 0 {
		return &ValidationError{Field: "session.max_entries", Message: "must not be negative"}
	}

	if c.Notify.Enabled {
		if c.SMTP.Host == "" {
			return &ValidationError{Field: "smtp.host", Message: "is required when notify is enabled"}
		}
		if len(c.Notify.To) == 0 {
			return &ValidationError{Field: "notify.to", Message: "is required when notify is enabled"}
		}
		for _, to := range c.Notify.To {
			if !utils.ValidateEmail(to) {
				return &ValidationError{Field: "notify.to", Message: fmt.Sprintf("invalid email %q", to)}
			}
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ValidationError{Field: "logging.level", Message: "must be one of: debug, info, warn, error"}
	}

	return nil
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// IsProduction reports whether the app runs with env "production".
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Address returns the host:port the HTTP server listens on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}
