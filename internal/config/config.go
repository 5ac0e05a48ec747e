// Package config loads worker and gateway settings from defaults, an optional
// YAML file, an optional .env file and the process environment, in rising priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Source locates optional config inputs. Empty fields fall back to the defaults.
type Source struct {
	// ConfigFile is a YAML file. When empty, ./config.yaml and ./config/config.yaml are tried.
	ConfigFile string
	// EnvFile is a dotenv file. When empty, ./.env is tried.
	EnvFile string
}

// newViper prepares a viper instance with env binding, the .env file and the config file.
func newViper(src Source, keys []string, defaults map[string]any) (*viper.Viper, error) {
	envFile := src.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// godotenv never overrides variables already present in the environment.
	if err := godotenv.Load(envFile); err != nil && !(src.EnvFile == "" && errors.Is(err, fs.ErrNotExist)) {
		return nil, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if src.ConfigFile != "" {
		v.SetConfigFile(src.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if src.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}
	return v, nil
}

// stringList reads a comma separated env value or a YAML list.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	if s, ok := v.Get(key).(string); ok {
		raw = strings.Split(s, ",")
	} else {
		raw = v.GetStringSlice(key)
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Database holds Postgres connection settings. URL wins over the discrete fields.
type Database struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

// DSN returns the connection string.
func (d Database) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

// Redis holds Session Registry connection settings.
type Redis struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// JWT holds token signing settings.
type JWT struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Login holds the failed-login limiter settings.
type Login struct {
	MaxFailures int
	Window      time.Duration
	BlockFor    time.Duration
}

// Worker is the configuration of the auth worker.
type Worker struct {
	Env             string
	GRPCAddr        string
	Reflection      bool
	TLSCert         string
	TLSKey          string
	MetricsAddr     string
	ShutdownTimeout time.Duration

	Database     Database
	Redis        Redis
	JWT          JWT
	BlacklistTTL time.Duration
	Hasher       string
	BcryptCost   int
	Login        Login
}

var workerKeys = []string{
	"SERVER_ENV", "GRPC_ADDR", "GRPC_REFLECTION", "GRPC_TLS_CERT", "GRPC_TLS_KEY", "METRICS_ADDR", "SHUTDOWN_TIMEOUT",
	"DATABASE_URL", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSL_MODE", "DB_MAX_CONNS",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_POOL_SIZE",
	"JWT_ACCESS_SECRET", "JWT_REFRESH_SECRET", "JWT_ACCESS_EXPIRATION", "JWT_REFRESH_EXPIRATION", "JWT_ISSUER",
	"SESSION_BLACKLIST_TTL", "PASSWORD_HASHER", "BCRYPT_COST",
	"LOGIN_MAX_FAILURES", "LOGIN_WINDOW", "LOGIN_BLOCK_FOR",
}

var workerDefaults = map[string]any{
	"SERVER_ENV":             "production",
	"GRPC_ADDR":              ":50051",
	"GRPC_REFLECTION":        false,
	"METRICS_ADDR":           ":9090",
	"SHUTDOWN_TIMEOUT":       10 * time.Second,
	"DB_HOST":                "localhost",
	"DB_PORT":                "5432",
	"DB_SSL_MODE":            "disable",
	"DB_MAX_CONNS":           10,
	"REDIS_ADDR":             "localhost:6379",
	"REDIS_DB":               0,
	"REDIS_POOL_SIZE":        10,
	"JWT_ACCESS_EXPIRATION":  15 * time.Minute,
	"JWT_REFRESH_EXPIRATION": 7 * 24 * time.Hour,
	"JWT_ISSUER":             "worker-auth-service",
	"SESSION_BLACKLIST_TTL":  15 * time.Minute,
	"PASSWORD_HASHER":        "bcrypt",
	"BCRYPT_COST":            10,
	"LOGIN_MAX_FAILURES":     5,
	"LOGIN_WINDOW":           15 * time.Minute,
	"LOGIN_BLOCK_FOR":        15 * time.Minute,
}

// LoadWorker reads and validates the worker configuration.
func LoadWorker(src Source) (*Worker, error) {
	v, err := newViper(src, workerKeys, workerDefaults)
	if err != nil {
		return nil, err
	}
	c := &Worker{
		Env:             v.GetString("SERVER_ENV"),
		GRPCAddr:        v.GetString("GRPC_ADDR"),
		Reflection:      v.GetBool("GRPC_REFLECTION"),
		TLSCert:         v.GetString("GRPC_TLS_CERT"),
		TLSKey:          v.GetString("GRPC_TLS_KEY"),
		MetricsAddr:     v.GetString("METRICS_ADDR"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		Database: Database{
			URL:      v.GetString("DATABASE_URL"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSL_MODE"),
			MaxConns: v.GetInt32("DB_MAX_CONNS"),
		},
		Redis: Redis{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			PoolSize: v.GetInt("REDIS_POOL_SIZE"),
		},
		JWT: JWT{
			AccessSecret:  v.GetString("JWT_ACCESS_SECRET"),
			RefreshSecret: v.GetString("JWT_REFRESH_SECRET"),
			AccessTTL:     v.GetDuration("JWT_ACCESS_EXPIRATION"),
			RefreshTTL:    v.GetDuration("JWT_REFRESH_EXPIRATION"),
			Issuer:        v.GetString("JWT_ISSUER"),
		},
		BlacklistTTL: v.GetDuration("SESSION_BLACKLIST_TTL"),
		Hasher:       strings.ToLower(v.GetString("PASSWORD_HASHER")),
		BcryptCost:   v.GetInt("BCRYPT_COST"),
		Login: Login{
			MaxFailures: v.GetInt("LOGIN_MAX_FAILURES"),
			Window:      v.GetDuration("LOGIN_WINDOW"),
			BlockFor:    v.GetDuration("LOGIN_BLOCK_FOR"),
		},
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports the first invalid setting.
func (c *Worker) Validate() error {
	switch {
	case c.JWT.AccessSecret == "":
		return errors.New("config: JWT_ACCESS_SECRET is required")
	case c.JWT.RefreshSecret == "":
		return errors.New("config: JWT_REFRESH_SECRET is required")
	case c.JWT.AccessSecret == c.JWT.RefreshSecret:
		return errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	case c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0:
		return errors.New("config: JWT expirations must be positive")
	case c.JWT.AccessTTL >= c.JWT.RefreshTTL:
		return errors.New("config: JWT_ACCESS_EXPIRATION must be shorter than JWT_REFRESH_EXPIRATION")
	case c.Database.URL == "" && (c.Database.User == "" || c.Database.Name == ""):
		return errors.New("config: DATABASE_URL or DB_USER and DB_NAME are required")
	case c.Hasher != "bcrypt" && c.Hasher != "argon2id":
		return fmt.Errorf("config: PASSWORD_HASHER %q is not supported", c.Hasher)
	case (c.TLSCert == "") != (c.TLSKey == ""):
		return errors.New("config: GRPC_TLS_CERT and GRPC_TLS_KEY must be set together")
	case c.GRPCAddr == "":
		return errors.New("config: GRPC_ADDR is required")
	}
	return nil
}

// Development reports whether the worker runs in a development environment.
func (c *Worker) Development() bool { return c.Env == "development" }

// Gateway is the configuration of the HTTP gateway.
type Gateway struct {
	Env             string
	HTTPAddr        string
	WorkerAddr      string
	WorkerTLSCA     string
	WorkerTimeout   time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int
	CORSOrigins     []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

var gatewayKeys = []string{
	"SERVER_ENV", "HTTP_ADDR", "WORKER_ADDR", "WORKER_TLS_CA", "WORKER_TIMEOUT",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CORS_ORIGINS",
	"HTTP_READ_TIMEOUT", "HTTP_WRITE_TIMEOUT", "SHUTDOWN_TIMEOUT",
}

var gatewayDefaults = map[string]any{
	"SERVER_ENV":         "production",
	"HTTP_ADDR":          ":8080",
	"WORKER_ADDR":        "localhost:50051",
	"WORKER_TIMEOUT":     10 * time.Second,
	"RATE_LIMIT_RPS":     20.0,
	"RATE_LIMIT_BURST":   40,
	"HTTP_READ_TIMEOUT":  15 * time.Second,
	"HTTP_WRITE_TIMEOUT": 30 * time.Second,
	"SHUTDOWN_TIMEOUT":   10 * time.Second,
}

// LoadGateway reads and validates the gateway configuration.
func LoadGateway(src Source) (*Gateway, error) {
	v, err := newViper(src, gatewayKeys, gatewayDefaults)
	if err != nil {
		return nil, err
	}
	c := &Gateway{
		Env:             v.GetString("SERVER_ENV"),
		HTTPAddr:        v.GetString("HTTP_ADDR"),
		WorkerAddr:      v.GetString("WORKER_ADDR"),
		WorkerTLSCA:     v.GetString("WORKER_TLS_CA"),
		WorkerTimeout:   v.GetDuration("WORKER_TIMEOUT"),
		RateLimitRPS:    v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:  v.GetInt("RATE_LIMIT_BURST"),
		CORSOrigins:     stringList(v, "CORS_ORIGINS"),
		ReadTimeout:     v.GetDuration("HTTP_READ_TIMEOUT"),
		WriteTimeout:    v.GetDuration("HTTP_WRITE_TIMEOUT"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports the first invalid setting.
func (c *Gateway) Validate() error {
	switch {
	case c.HTTPAddr == "":
		return errors.New("config: HTTP_ADDR is required")
	case c.WorkerAddr == "":
		return errors.New("config: WORKER_ADDR is required")
	case c.WorkerTimeout <= 0:
		return errors.New("config: WORKER_TIMEOUT must be positive")
	case c.RateLimitRPS < 0 || c.RateLimitBurst < 0:
		return errors.New("config: rate limits must not be negative")
	}
	return nil
}

// Development reports whether the gateway runs in a development environment.
func (c *Gateway) Development() bool { return c.Env == "development" }
