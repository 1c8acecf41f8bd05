package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog"
)

// Config holds everything the call agent reads from its environment.
type Config struct {
	App       AppConfig
	User      domain.Party
	Signaling SignalingConfig
	Call      CallConfig
	Metrics   MetricsConfig
}

type AppConfig struct {
	Env      string
	HTTPAddr string
	LogLevel zerolog.Level
}

const (
	TransportWS       = "ws"
	TransportRedis    = "redis"
	TransportLoopback = "loopback"
)

type SignalingConfig struct {
	Transport string
	URL       string
	Secret    string
	RedisAddr string
}

type CallConfig struct {
	RingTimeout  time.Duration
	DisposeAfter time.Duration
	// Permissions is the comma separated capability list the host grants.
	// YA_PERMISSIONS=none grants nothing.
	Permissions string
}

type MetricsConfig struct {
	Namespace string
}

const (
	defaultHTTPAddr     = ":8080"
	defaultRingTimeout  = 30 * time.Second
	defaultDisposeAfter = 3 * time.Second
	defaultPermissions  = "microphone,camera"
	defaultNamespace    = "yacall"
)

func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads the configuration through getenv, applies defaults and
// validates the result. Every problem is reported, not just the first.
func LoadFrom(getenv func(string) string) (Config, error) {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }
	var parseErrs []error

	c := Config{}
	c.App.Env = env("YA_ENV")
	c.App.HTTPAddr = env("YA_HTTP_ADDR")
	c.App.LogLevel = zerolog.InfoLevel
	if v := env("YA_LOG_LEVEL"); v != "" {
		lvl, err := zerolog.ParseLevel(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("YA_LOG_LEVEL: %w", err))
		}
		c.App.LogLevel = lvl
	}

	c.User = domain.Party{
		ID:    domain.UserID(env("YA_USER_ID")),
		Name:  env("YA_USER_NAME"),
		Image: env("YA_USER_IMAGE"),
	}

	c.Signaling.Transport = env("YA_SIGNALING")
	c.Signaling.URL = env("YA_SIGNALING_URL")
	c.Signaling.Secret = getenv("YA_SIGNALING_SECRET")
	c.Signaling.RedisAddr = env("YA_REDIS_ADDR")

	c.Call.RingTimeout = defaultRingTimeout
	if d, set, err := duration(env, "YA_RING_TIMEOUT"); err != nil {
		parseErrs = append(parseErrs, err)
	} else if set {
		c.Call.RingTimeout = d
	}
	c.Call.DisposeAfter = defaultDisposeAfter
	if d, set, err := duration(env, "YA_DISPOSE_AFTER"); err != nil {
		parseErrs = append(parseErrs, err)
	} else if set {
		c.Call.DisposeAfter = d
	}
	c.Call.Permissions = defaultPermissions
	switch v := env("YA_PERMISSIONS"); v {
	case "":
	case "none":
		c.Call.Permissions = ""
	default:
		c.Call.Permissions = v
	}

	c.Metrics.Namespace = env("YA_METRICS_NAMESPACE")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate fills in defaults and checks the configuration. It must be called
// on a pointer so the defaults stick.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		c.App.Env = "local"
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("YA_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = defaultHTTPAddr
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = defaultNamespace
	}

	if c.User.ID == "" {
		errs = append(errs, errors.New("YA_USER_ID is required"))
	}

	if c.Signaling.Transport == "" {
		c.Signaling.Transport = TransportLoopback
	}
	switch c.Signaling.Transport {
	case TransportWS:
		if c.Signaling.URL == "" {
			errs = append(errs, errors.New("YA_SIGNALING_URL is required for ws signaling"))
		} else if !strings.HasPrefix(c.Signaling.URL, "ws://") && !strings.HasPrefix(c.Signaling.URL, "wss://") {
			errs = append(errs, fmt.Errorf("YA_SIGNALING_URL must be a ws:// or wss:// url, got %q", c.Signaling.URL))
		}
		if c.Signaling.Secret == "" {
			errs = append(errs, errors.New("YA_SIGNALING_SECRET is required for ws signaling"))
		}
		if c.IsProduction() && strings.HasPrefix(c.Signaling.URL, "ws://") {
			errs = append(errs, errors.New("YA_SIGNALING_URL must use wss:// in production"))
		}
	case TransportRedis:
		if c.Signaling.RedisAddr == "" {
			errs = append(errs, errors.New("YA_REDIS_ADDR is required for redis signaling"))
		}
	case TransportLoopback:
		if c.IsProduction() {
			errs = append(errs, errors.New("loopback signaling is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("YA_SIGNALING must be one of ws, redis, loopback, got %q", c.Signaling.Transport))
	}

	if c.Call.RingTimeout < 0 {
		errs = append(errs, fmt.Errorf("YA_RING_TIMEOUT must not be negative, got %s", c.Call.RingTimeout))
	}
	if c.Call.DisposeAfter < 0 {
		errs = append(errs, fmt.Errorf("YA_DISPOSE_AFTER must not be negative, got %s", c.Call.DisposeAfter))
	}
	for _, part := range strings.Split(c.Call.Permissions, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		if _, err := domain.ParseCapability(part); err != nil {
			errs = append(errs, fmt.Errorf("YA_PERMISSIONS: %w", err))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func duration(env func(string) string, key string) (time.Duration, bool, error) {
	v := env(key)
	if v == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, true, nil
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
