package app

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// ErrConfig marks invalid configuration.
var ErrConfig = errors.New("invalid config")

// Token store backends.
const (
	TokenStoreFile     = "file"
	TokenStorePostgres = "postgres"
	TokenStoreMemory   = "memory"
)

// Config contains all runtime configuration of checkinctl.
//
// Sources, highest priority first: env vars, the YAML file given by --config
// or CHECKIN_CONFIG, built-in defaults.
type Config struct {
	APIBaseURL string `yaml:"api_base_url" env:"CHECKIN_API_BASE_URL" env-default:"http://127.0.0.1:8080"`
	// WSBaseURL defaults to APIBaseURL with the scheme switched to ws/wss.
	WSBaseURL string `yaml:"ws_base_url" env:"CHECKIN_WS_BASE_URL"`

	AdminUser     string `yaml:"admin_user" env:"CHECKIN_ADMIN_USER"`
	AdminPassword string `yaml:"admin_password" env:"CHECKIN_ADMIN_PASSWORD"`

	Profile         string `yaml:"profile" env:"CHECKIN_PROFILE" env-default:"default"`
	TokenStore      string `yaml:"token_store" env:"CHECKIN_TOKEN_STORE" env-default:"file"`
	TokenFile       string `yaml:"token_file" env:"CHECKIN_TOKEN_FILE"`
	TokenPassphrase string `yaml:"token_passphrase" env:"CHECKIN_TOKEN_PASSPHRASE"`

	DatabaseURL string `yaml:"database_url" env:"CHECKIN_DATABASE_URL"`
	DBMaxConns  int32  `yaml:"db_max_conns" env:"CHECKIN_DB_MAX_CONNS" env-default:"2"`

	LogLevel  string `yaml:"log_level" env:"CHECKIN_LOG_LEVEL" env-default:"warn"`
	LogFormat string `yaml:"log_format" env:"CHECKIN_LOG_FORMAT" env-default:"pretty"`

	HTTPTimeout time.Duration `yaml:"http_timeout" env:"CHECKIN_HTTP_TIMEOUT" env-default:"15s"`
	MetricsAddr string        `yaml:"metrics_addr" env:"CHECKIN_METRICS_ADDR"`
	Timezone    string        `yaml:"timezone" env:"CHECKIN_TIMEZONE" env-default:"Europe/Berlin"`

	ReconnectInitial time.Duration `yaml:"reconnect_initial" env:"CHECKIN_RECONNECT_INITIAL" env-default:"500ms"`
	ReconnectMax     time.Duration `yaml:"reconnect_max" env:"CHECKIN_RECONNECT_MAX" env-default:"30s"`
	Coalesce         time.Duration `yaml:"coalesce" env:"CHECKIN_COALESCE" env-default:"50ms"`
}

// LoadConfig reads path (or CHECKIN_CONFIG when path is empty) and overlays env.
// Without a file only env and defaults apply.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	if path == "" {
		path = EnvString("CHECKIN_CONFIG", "")
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("%w: config file %q: %w", ErrConfig, path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: read %q: %w", ErrConfig, path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: read env: %w", ErrConfig, err)
	}

	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = wsBaseURL(cfg.APIBaseURL)
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.APIBaseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: CHECKIN_API_BASE_URL must be an http(s) url, got %q", ErrConfig, c.APIBaseURL)
	}
	w, err := url.Parse(strings.TrimSpace(c.WSBaseURL))
	if err != nil || (w.Scheme != "ws" && w.Scheme != "wss") || w.Host == "" {
		return fmt.Errorf("%w: CHECKIN_WS_BASE_URL must be a ws(s) url, got %q", ErrConfig, c.WSBaseURL)
	}

	if (c.AdminUser == "") != (c.AdminPassword == "") {
		return fmt.Errorf("%w: CHECKIN_ADMIN_USER and CHECKIN_ADMIN_PASSWORD must be set together", ErrConfig)
	}

	switch c.TokenStore {
	case TokenStoreFile, TokenStoreMemory:
	case TokenStorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: token store %q requires CHECKIN_DATABASE_URL", ErrConfig, c.TokenStore)
		}
	default:
		return fmt.Errorf("%w: unknown token store %q", ErrConfig, c.TokenStore)
	}

	if strings.TrimSpace(c.Profile) == "" {
		return fmt.Errorf("%w: empty profile", ErrConfig)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("%w: CHECKIN_HTTP_TIMEOUT must be positive", ErrConfig)
	}
	if c.ReconnectInitial <= 0 || c.ReconnectMax < c.ReconnectInitial {
		return fmt.Errorf("%w: reconnect bounds %s..%s", ErrConfig, c.ReconnectInitial, c.ReconnectMax)
	}
	if c.Coalesce < 0 {
		return fmt.Errorf("%w: negative coalesce window", ErrConfig)
	}
	return nil
}

// AutoLogin reports whether unattended login credentials are configured.
func (c Config) AutoLogin() bool { return c.AdminUser != "" && c.AdminPassword != "" }

// wsBaseURL maps an http(s) base URL onto the matching ws(s) origin.
// A bare host:port is treated as plain http.
func wsBaseURL(apiBase string) string {
	s := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	switch {
	case strings.HasPrefix(s, "https://"):
		return "wss://" + strings.TrimPrefix(s, "https://")
	case strings.HasPrefix(s, "http://"):
		return "ws://" + strings.TrimPrefix(s, "http://")
	case strings.Contains(s, "://"):
		return s
	default:
		return "ws://" + s
	}
}

// metricsURL is the address printed when the metrics endpoint starts.
// Wildcard binds are reported on loopback.
func metricsURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/metrics"
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/metrics"
}
