package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr           string        `mapstructure:"addr"`
		LogLevel       string        `mapstructure:"log_level"`
		RouteRPS       float64       `mapstructure:"route_rps"`
		RouteBurst     int           `mapstructure:"route_burst"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"server"`

	// Routes are the HTTP paths shared by the dispatcher and the handlers.
	Routes struct {
		Target  string `mapstructure:"target"`
		Route   string `mapstructure:"route"`
		Health  string `mapstructure:"health"`
		Metrics string `mapstructure:"metrics"`
	} `mapstructure:"routes"`

	Store struct {
		Driver          string        `mapstructure:"driver"` // redis | postgres | memory
		OpTimeout       time.Duration `mapstructure:"op_timeout"`
		ConnectAttempts int           `mapstructure:"connect_attempts"`
		ConnectBackoff  time.Duration `mapstructure:"connect_backoff"`
	} `mapstructure:"store"`

	Redis struct {
		Addr      string `mapstructure:"addr"`
		Password  string `mapstructure:"password"`
		DB        int    `mapstructure:"db"`
		KeyPrefix string `mapstructure:"key_prefix"` // prepended to every hash key
	} `mapstructure:"redis"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Quota struct {
		LegacyDayKey bool          `mapstructure:"legacy_day_key"`
		CounterTTL   time.Duration `mapstructure:"counter_ttl"`
	} `mapstructure:"quota"`

	Seed struct {
		TargetsFile string `mapstructure:"targets_file"`
	} `mapstructure:"seed"`
}

// keys every env override must be able to reach; viper only maps
// AutomaticEnv onto keys it already knows about.
var keys = []string{
	"server.addr", "server.log_level", "server.route_rps", "server.route_burst", "server.request_timeout",
	"routes.target", "routes.route", "routes.health", "routes.metrics",
	"store.driver", "store.op_timeout", "store.connect_attempts", "store.connect_backoff",
	"redis.addr", "redis.password", "redis.db", "redis.key_prefix",
	"postgres.host", "postgres.port", "postgres.user", "postgres.password", "postgres.db_name",
	"postgres.ssl_mode", "postgres.max_open_conns", "postgres.max_idle_conns",
	"quota.legacy_day_key", "quota.counter_ttl",
	"seed.targets_file",
}

func Load() Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	_ = v.ReadInConfig() // optional; env can fully configure

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	if err := cfg.Check(); err != nil {
		panic(fmt.Errorf("invalid config: %w", err))
	}
	return cfg
}

func validate(c *Config) {
	if c.Server.Addr == "" { c.Server.Addr = ":8080" }
	if c.Server.RouteBurst <= 0 { c.Server.RouteBurst = int(c.Server.RouteRPS) + 1 }
	if c.Server.RequestTimeout <= 0 { c.Server.RequestTimeout = 2 * time.Second }
	if c.Routes.Target == "" { c.Routes.Target = "/target" }
	if c.Routes.Route == "" { c.Routes.Route = "/route" }
	if c.Routes.Health == "" { c.Routes.Health = "/health" }
	if c.Routes.Metrics == "" { c.Routes.Metrics = "/metrics" }
	if c.Store.Driver == "" { c.Store.Driver = "redis" }
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.OpTimeout <= 0 { c.Store.OpTimeout = 500 * time.Millisecond }
	if c.Store.ConnectAttempts <= 0 { c.Store.ConnectAttempts = 5 }
	if c.Store.ConnectBackoff <= 0 { c.Store.ConnectBackoff = time.Second }
	if c.Redis.Addr == "" { c.Redis.Addr = "localhost:6379" }
	if c.Postgres.Port == 0 { c.Postgres.Port = 5432 }
	if c.Postgres.SSLMode == "" { c.Postgres.SSLMode = "disable" }
	if c.Postgres.MaxOpenConns == 0 { c.Postgres.MaxOpenConns = 10 }
	if c.Postgres.MaxIdleConns == 0 { c.Postgres.MaxIdleConns = 10 }
}

// Check reports every invariant the defaults cannot repair.
func (c Config) Check() error {
	var errs error
	switch c.Store.Driver {
	case "redis", "postgres", "memory":
	default:
		errs = multierr.Append(errs, fmt.Errorf("store.driver %q: want redis, postgres or memory", c.Store.Driver))
	}
	if c.Server.RouteRPS < 0 {
		errs = multierr.Append(errs, errors.New("server.route_rps must be >= 0"))
	}
	if c.Quota.CounterTTL < 0 {
		errs = multierr.Append(errs, errors.New("quota.counter_ttl must be >= 0"))
	}
	for name, p := range map[string]string{
		"routes.target": c.Routes.Target,
		"routes.route":  c.Routes.Route,
		"routes.health": c.Routes.Health,
	} {
		if !strings.HasPrefix(p, "/") {
			errs = multierr.Append(errs, fmt.Errorf("%s %q must start with /", name, p))
		}
	}
	if c.Store.Driver == "postgres" && c.Postgres.Host == "" {
		errs = multierr.Append(errs, errors.New("postgres.host is required for the postgres driver"))
	}
	return errs
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) DSNRedacted() string {
	return fmt.Sprintf("postgres://***:***@%s:%d/%s", c.Postgres.Host, c.Postgres.Port, c.Postgres.DBName)
}
