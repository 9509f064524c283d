package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location, relative to the working directory.
const ConfigPath = "config.yaml"

// ConfigPathEnv overrides ConfigPath.
const ConfigPathEnv = "BOOKSHELF_CONFIG"

const minJWTSecretBytes = 32

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port               string   `yaml:"port"`
	DatabaseURL        string   `yaml:"databaseURL"`
	RedisAddr          string   `yaml:"redisAddr"`
	RedisPassword      string   `yaml:"redisPassword"`
	SessionTTL         string   `yaml:"sessionTTL"`
	LogLevel           string   `yaml:"logLevel"`
	JWTSecret          string   `yaml:"jwtSecret"`
	JWTIssuer          string   `yaml:"jwtIssuer"`
	JWTAudience        string   `yaml:"jwtAudience"`
	JWTLeeway          string   `yaml:"jwtLeeway"`
	PasswordHashCost   int      `yaml:"passwordHashCost"`
	SavedBooksStrategy string   `yaml:"savedBooksStrategy"`
	TrustedProxies     []string `yaml:"trustedProxies"`
	AllowedOrigins     []string `yaml:"allowedOrigins"`
	ShutdownTimeout    string   `yaml:"shutdownTimeout"`
}

// ResolvePath returns the config path from BOOKSHELF_CONFIG, or "" so that
// Load falls back to the optional default file.
func ResolvePath() string {
	return strings.TrimSpace(os.Getenv(ConfigPathEnv))
}

// Load reads config from path (defaults to config.yaml), then applies
// environment overrides. A missing default file is tolerated so the service
// can be configured from the environment alone.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	explicit := path != ""
	if !explicit {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) error {
	overrides := map[string]*string{
		"PORT":                 &cfg.Port,
		"DATABASE_URL":         &cfg.DatabaseURL,
		"REDIS_ADDR":           &cfg.RedisAddr,
		"REDIS_PASSWORD":       &cfg.RedisPassword,
		"SESSION_TTL":          &cfg.SessionTTL,
		"LOG_LEVEL":            &cfg.LogLevel,
		"JWT_SECRET":           &cfg.JWTSecret,
		"JWT_ISSUER":           &cfg.JWTIssuer,
		"JWT_AUDIENCE":         &cfg.JWTAudience,
		"JWT_LEEWAY":           &cfg.JWTLeeway,
		"SAVED_BOOKS_STRATEGY": &cfg.SavedBooksStrategy,
		"SHUTDOWN_TIMEOUT":     &cfg.ShutdownTimeout,
	}
	for key, dst := range overrides {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("PASSWORD_HASH_COST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PASSWORD_HASH_COST: %w", err)
		}
		cfg.PasswordHashCost = n
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	return nil
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: jwtSecret is required (set JWT_SECRET)")
	}
	if len(cfg.JWTSecret) < minJWTSecretBytes {
		return fmt.Errorf("config: jwtSecret must be at least %d bytes", minJWTSecretBytes)
	}
	if cfg.PasswordHashCost != 0 && (cfg.PasswordHashCost < bcrypt.MinCost || cfg.PasswordHashCost > bcrypt.MaxCost) {
		return fmt.Errorf("config: passwordHashCost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	switch cfg.SavedBooksStrategy {
	case "", "conditional", "locked":
	default:
		return fmt.Errorf("config: savedBooksStrategy must be conditional or locked, got %q", cfg.SavedBooksStrategy)
	}
	if cfg.SavedBooksStrategy == "locked" && strings.TrimSpace(cfg.RedisAddr) == "" && strings.TrimSpace(cfg.DatabaseURL) != "" {
		return errors.New("config: savedBooksStrategy locked with a shared database requires redisAddr")
	}
	for name, raw := range map[string]string{
		"sessionTTL":      cfg.SessionTTL,
		"jwtLeeway":       cfg.JWTLeeway,
		"shutdownTimeout": cfg.ShutdownTimeout,
	} {
		if _, err := parseDuration(name, raw); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// ParseSessionTTL parses optional session TTL duration string.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	return parseDuration("sessionTTL", ttlStr)
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	return parseDuration("jwtLeeway", leewayStr)
}

// ParseShutdownTimeout parses how long shutdown may wait for in-flight requests, defaulting to 10s.
func ParseShutdownTimeout(raw string) (time.Duration, error) {
	d, err := parseDuration("shutdownTimeout", raw)
	if err != nil || d > 0 {
		return d, err
	}
	return 10 * time.Second, nil
}

func parseDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
