package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/site-monitor/internal/site"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	BackendMySQL    = "mysql"
	BackendSQLite   = "sqlite"
	BackendMongoDB  = "mongodb"
	BackendPostgres = "postgres"
)

const (
	DefaultSampleInterval = 60
	DefaultAlertThreshold = 3
)

type ServerConfig struct {
	Address          string `mapstructure:"address"`
	Environment      string `mapstructure:"environment"`
	ShutdownPassword string `mapstructure:"shutdown_password"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type ProbeConfig struct {
	Timeout      string `mapstructure:"timeout"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
	UserAgent    string `mapstructure:"user_agent"`
}

type MySQLConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	DSN      string `mapstructure:"dsn"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type StorageConfig struct {
	Backends         []string       `mapstructure:"backends"`
	WriteTimeout     string         `mapstructure:"write_timeout"`
	BreakerThreshold int            `mapstructure:"breaker_threshold"`
	BreakerReset     string         `mapstructure:"breaker_reset"`
	MySQL            MySQLConfig    `mapstructure:"mysql"`
	SQLite           SQLiteConfig   `mapstructure:"sqlite"`
	MongoDB          MongoDBConfig  `mapstructure:"mongodb"`
	Postgres         PostgresConfig `mapstructure:"postgres"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// SiteConfig is one entry of the sites list. Intervals are in seconds.
type SiteConfig struct {
	Name           string   `mapstructure:"name"`
	URL            string   `mapstructure:"url"`
	ExpectedToken  string   `mapstructure:"expected_token"`
	SampleInterval int      `mapstructure:"sample_interval"`
	AlertLoadTime  float64  `mapstructure:"alert_load_time"`
	AlertThreshold int      `mapstructure:"alert_threshold"`
	Active         *bool    `mapstructure:"active"`
	AlertEmails    []string `mapstructure:"alert_emails"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Probe   ProbeConfig   `mapstructure:"probe"`
	Storage StorageConfig `mapstructure:"storage"`
	SMTP    SMTPConfig    `mapstructure:"smtp"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Sites   []SiteConfig  `mapstructure:"sites"`
}

// dbEnvOverrides win over flags, matching the deployment convention of
// injecting database credentials through the environment.
var dbEnvOverrides = map[string]string{
	"DB_HOST": "storage.mysql.host",
	"DB_PORT": "storage.mysql.port",
	"DB_USER": "storage.mysql.user",
	"DB_PASS": "storage.mysql.password",
	"DB_NAME": "storage.mysql.database",
}

// Loader reads configuration and can watch the config file for changes.
type Loader struct {
	v       *viper.Viper
	envFile string
}

// NewLoader parses command-line args and prepares a viper instance with
// defaults and flag bindings.
func NewLoader(args []string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet("site-monitor", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "path to config file")
	fs.String("env-file", ".env", "path to .env file")
	fs.BoolP("verbose", "v", false, "enable debug logging")
	fs.String("address", "", "admin listener address")
	fs.String("dbhost", "", "database host")
	fs.Int("dbport", 0, "database port")
	fs.StringP("dbuser", "u", "", "database user")
	fs.String("dbpass", "", "database password")
	fs.StringP("dbname", "d", "", "database schema")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	bindings := map[string]string{
		"server.address":         "address",
		"storage.mysql.host":     "dbhost",
		"storage.mysql.port":     "dbport",
		"storage.mysql.user":     "dbuser",
		"storage.mysql.password": "dbpass",
		"storage.mysql.database": "dbname",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	if verbose, _ := fs.GetBool("verbose"); verbose {
		v.Set("logging.level", LogLevelDebug)
	}

	l := &Loader{v: v}
	l.envFile, _ = fs.GetString("env-file")

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	return l, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":3399")
	v.SetDefault("server.shutdown_password", "")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.file", "")
	v.SetDefault("probe.timeout", "10s")
	v.SetDefault("probe.max_body_bytes", 1<<20)
	v.SetDefault("probe.user_agent", "site-monitor/1.0")
	v.SetDefault("storage.backends", []string{})
	v.SetDefault("storage.write_timeout", "5s")
	v.SetDefault("storage.breaker_threshold", 5)
	v.SetDefault("storage.breaker_reset", "30s")
	v.SetDefault("storage.mysql.host", "127.0.0.1")
	v.SetDefault("storage.mysql.port", 3306)
	v.SetDefault("storage.mysql.user", "root")
	v.SetDefault("storage.mysql.password", "")
	v.SetDefault("storage.mysql.database", "site_monitor")
	v.SetDefault("storage.mysql.dsn", "")
	v.SetDefault("storage.sqlite.path", "data/site-monitor.db")
	v.SetDefault("storage.mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongodb.database", "site_monitor")
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "site-monitor:alerts")
}

// Load reads the .env file, the config file and the environment, then
// validates the result.
func (l *Loader) Load() (*Config, error) {
	if err := loadDotEnv(l.envFile); err != nil {
		slog.Error("failed to read env file", slog.String("file", l.envFile), slog.String("error", err.Error()))
		return nil, err
	}

	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", l.v.ConfigFileUsed()))
	}

	return l.decode()
}

// Watch calls onChange with the re-validated configuration every time the
// config file changes. A reload that fails validation is passed as an error.
func (l *Loader) Watch(onChange func(*Config, error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("config file changed", slog.String("file", e.Name))
		onChange(l.decode())
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	for env, key := range dbEnvOverrides {
		if value, ok := os.LookupEnv(env); ok && value != "" {
			l.v.Set(key, value)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

func (c *Config) applyDefaults() {
	for i := range c.Sites {
		s := &c.Sites[i]
		if s.SampleInterval == 0 {
			s.SampleInterval = DefaultSampleInterval
		}
		if s.AlertThreshold == 0 {
			s.AlertThreshold = DefaultAlertThreshold
		}
		if s.Active == nil {
			active := true
			s.Active = &active
		}
	}
}

// Site converts the entry into the monitor's site configuration.
func (s SiteConfig) Site() site.Config {
	active := s.Active == nil || *s.Active
	return site.Config{
		Name:           s.Name,
		URL:            s.URL,
		ExpectedToken:  s.ExpectedToken,
		SampleInterval: time.Duration(s.SampleInterval) * time.Second,
		AlertLoadTime:  time.Duration(s.AlertLoadTime * float64(time.Second)),
		AlertThreshold: s.AlertThreshold,
		Active:         active,
		AlertEmails:    append([]string(nil), s.AlertEmails...),
	}
}

func (c *Config) SiteConfigs() []site.Config {
	out := make([]site.Config, 0, len(c.Sites))
	for _, s := range c.Sites {
		out = append(out, s.Site())
	}
	return out
}

func (p ProbeConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(p.Timeout, 10*time.Second)
}

func (s StorageConfig) WriteTimeoutDuration() time.Duration {
	return parseDurationOr(s.WriteTimeout, 5*time.Second)
}

func (s StorageConfig) BreakerResetDuration() time.Duration {
	return parseDurationOr(s.BreakerReset, 30*time.Second)
}

// Uses reports whether backend is enabled.
func (s StorageConfig) Uses(backend string) bool {
	for _, b := range s.Backends {
		if b == backend {
			return true
		}
	}
	return false
}

func parseDurationOr(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Probe,
			validation.Required,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProbeConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProbeConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.Timeout,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&pc.MaxBodyBytes, validation.Min(int64(1))),
				)
			}),
		),
		validation.Field(&c.Storage, validation.By(validateStorage)),
		validation.Field(&c.SMTP, validation.By(validateSMTP)),
		validation.Field(&c.Sites,
			validation.By(validateUniqueSites),
			validation.Each(validation.By(validateSiteConfig)),
		),
	)
}

func validateStorage(value interface{}) error {
	sc, ok := value.(StorageConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a StorageConfig")
	}

	return validation.ValidateStruct(&sc,
		validation.Field(&sc.Backends,
			validation.Each(validation.In(BackendMySQL, BackendSQLite, BackendMongoDB, BackendPostgres)),
		),
		validation.Field(&sc.WriteTimeout, validation.Required, validation.By(validateDuration)),
		validation.Field(&sc.BreakerReset, validation.Required, validation.By(validateDuration)),
		validation.Field(&sc.BreakerThreshold, validation.Required, validation.Min(1)),
		validation.Field(&sc.MySQL, validation.When(sc.Uses(BackendMySQL), validation.By(func(value interface{}) error {
			mc, _ := value.(MySQLConfig)
			if mc.DSN != "" {
				return nil
			}
			return validation.ValidateStruct(&mc,
				validation.Field(&mc.Host, validation.Required),
				validation.Field(&mc.Port, validation.Required, validation.Min(1), validation.Max(65535)),
				validation.Field(&mc.User, validation.Required),
				validation.Field(&mc.Database, validation.Required),
			)
		}))),
		validation.Field(&sc.SQLite, validation.When(sc.Uses(BackendSQLite), validation.By(func(value interface{}) error {
			lc, _ := value.(SQLiteConfig)
			return validation.ValidateStruct(&lc, validation.Field(&lc.Path, validation.Required))
		}))),
		validation.Field(&sc.MongoDB, validation.When(sc.Uses(BackendMongoDB), validation.By(func(value interface{}) error {
			mc, _ := value.(MongoDBConfig)
			return validation.ValidateStruct(&mc,
				validation.Field(&mc.URI, validation.Required),
				validation.Field(&mc.Database, validation.Required),
			)
		}))),
		validation.Field(&sc.Postgres, validation.When(sc.Uses(BackendPostgres), validation.By(func(value interface{}) error {
			pc, _ := value.(PostgresConfig)
			return validation.ValidateStruct(&pc, validation.Field(&pc.URL, validation.Required))
		}))),
	)
}

func validateSMTP(value interface{}) error {
	sc, ok := value.(SMTPConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a SMTPConfig")
	}
	if sc.Host == "" {
		return nil
	}

	return validation.ValidateStruct(&sc,
		validation.Field(&sc.Host, is.Host),
		validation.Field(&sc.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&sc.From, validation.Required, is.EmailFormat),
	)
}

func validateUniqueSites(value interface{}) error {
	sites, ok := value.([]SiteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of sites")
	}

	seen := make(map[string]struct{}, len(sites))
	for _, s := range sites {
		if _, dup := seen[s.Name]; dup {
			return validation.NewError("validation_duplicate_site", fmt.Sprintf("site name %q is used more than once", s.Name))
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

var siteNamePattern = regexp.MustCompile(`^[^\x00-\x1f\x7f]+$`)

func validateSiteConfig(value interface{}) error {
	sc, ok := value.(SiteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a SiteConfig")
	}

	return validation.ValidateStruct(&sc,
		validation.Field(&sc.Name, validation.Required, validation.Length(1, 64),
			validation.Match(siteNamePattern).Error("must not contain control characters")),
		validation.Field(&sc.URL, validation.By(validateServerURL)),
		validation.Field(&sc.SampleInterval, validation.Required, validation.Min(1)),
		validation.Field(&sc.AlertLoadTime, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&sc.AlertThreshold, validation.Required, validation.Min(1)),
		validation.Field(&sc.AlertEmails, validation.Each(is.EmailFormat)),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return validation.NewError("validation_empty_url", "site URL cannot be empty")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
