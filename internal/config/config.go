package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Name     string `yaml:"name"`
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	// LogFormat is "console" for human readable output, anything else is JSON.
	LogFormat string `yaml:"log_format"`
	// StorageDriver selects "postgres" or "memory".
	StorageDriver string `yaml:"storage_driver"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	CouponTTL time.Duration `yaml:"coupon_ttl"`
}

type NotifyConfig struct {
	// Driver selects "log", "kafka" or "rabbitmq".
	Driver       string        `yaml:"driver"`
	SendTimeout  time.Duration `yaml:"send_timeout"`
	KafkaBrokers []string      `yaml:"kafka_brokers"`
	KafkaTopic   string        `yaml:"kafka_topic"`
	AMQPURL      string        `yaml:"amqp_url"`
	AMQPExchange string        `yaml:"amqp_exchange"`
	AMQPRouting  string        `yaml:"amqp_routing_key"`
}

type PaymentConfig struct {
	// Verifier selects "stripe" or "trust".
	Verifier     string `yaml:"verifier"`
	StripeAPIKey string `yaml:"stripe_api_key"`
}

type OrderConfig struct {
	RestockOnCancel    bool `yaml:"restock_on_cancel"`
	ReserveMaxAttempts int  `yaml:"reserve_max_attempts"`
}

type Config struct {
	App      AppConfig      `yaml:"app"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Notify   NotifyConfig   `yaml:"notify"`
	Payment  PaymentConfig  `yaml:"payment"`
	Order    OrderConfig    `yaml:"order"`
}

// NewConfig loads .env (if present), then the YAML file at CONFIG_PATH (if set),
// then applies environment overrides and defaults.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.App.Name, "APP_NAME")
	setString(&cfg.App.Port, "APP_PORT")
	setString(&cfg.App.LogLevel, "LOG_LEVEL")
	setString(&cfg.App.LogFormat, "LOG_FORMAT")
	setString(&cfg.App.StorageDriver, "STORAGE_DRIVER")

	setString(&cfg.Postgres.Host, "DB_HOST")
	setString(&cfg.Postgres.Port, "DB_PORT")
	setString(&cfg.Postgres.User, "DB_USER")
	setString(&cfg.Postgres.Password, "DB_PASSWORD")
	setString(&cfg.Postgres.DBName, "DB_NAME")
	setString(&cfg.Postgres.SSLMode, "DB_SSLMODE")
	setString(&cfg.Postgres.MigrationsPath, "DB_MIGRATIONS_PATH")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	setString(&cfg.Notify.Driver, "NOTIFY_DRIVER")
	setString(&cfg.Notify.KafkaTopic, "KAFKA_TOPIC")
	setString(&cfg.Notify.AMQPURL, "AMQP_URL")
	setString(&cfg.Notify.AMQPExchange, "AMQP_EXCHANGE")
	setString(&cfg.Notify.AMQPRouting, "AMQP_ROUTING_KEY")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Notify.KafkaBrokers = splitList(v)
	}

	setString(&cfg.Payment.Verifier, "PAYMENT_VERIFIER")
	setString(&cfg.Payment.StripeAPIKey, "STRIPE_API_KEY")

	if err := setInt32(&cfg.Postgres.MaxConns, "DB_MAX_CONNS"); err != nil {
		return err
	}
	if err := setInt32(&cfg.Postgres.MinConns, "DB_MIN_CONNS"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Postgres.MaxConnLifetime, "DB_MAX_CONN_LIFETIME"); err != nil {
		return err
	}
	if err := setInt(&cfg.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Redis.CouponTTL, "REDIS_COUPON_TTL"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Notify.SendTimeout, "NOTIFY_SEND_TIMEOUT"); err != nil {
		return err
	}
	if err := setInt(&cfg.Order.ReserveMaxAttempts, "ORDER_RESERVE_MAX_ATTEMPTS"); err != nil {
		return err
	}
	if v := os.Getenv("ORDER_RESTOCK_ON_CANCEL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid ORDER_RESTOCK_ON_CANCEL %q: %w", v, err)
		}
		cfg.Order.RestockOnCancel = b
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "order-service"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.StorageDriver == "" {
		cfg.App.StorageDriver = "postgres"
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxConns == 0 {
		cfg.Postgres.MaxConns = 10
	}
	if cfg.Postgres.MinConns == 0 {
		cfg.Postgres.MinConns = 2
	}
	if cfg.Postgres.MaxConnLifetime == 0 {
		cfg.Postgres.MaxConnLifetime = 30 * time.Minute
	}
	if cfg.Postgres.MigrationsPath == "" {
		cfg.Postgres.MigrationsPath = "migrations"
	}
	if cfg.Redis.CouponTTL == 0 {
		cfg.Redis.CouponTTL = time.Minute
	}
	if cfg.Notify.Driver == "" {
		cfg.Notify.Driver = "log"
	}
	if cfg.Notify.SendTimeout == 0 {
		cfg.Notify.SendTimeout = 10 * time.Second
	}
	if cfg.Notify.KafkaTopic == "" {
		cfg.Notify.KafkaTopic = "order-notifications"
	}
	if cfg.Notify.AMQPExchange == "" {
		cfg.Notify.AMQPExchange = "notifications"
	}
	if cfg.Notify.AMQPRouting == "" {
		cfg.Notify.AMQPRouting = "email"
	}
	if cfg.Payment.Verifier == "" {
		cfg.Payment.Verifier = "trust"
	}
	if cfg.Order.ReserveMaxAttempts == 0 {
		cfg.Order.ReserveMaxAttempts = 5
	}
}

// Validate checks the settings required by the selected drivers.
func (c *Config) Validate() error {
	var errs []error

	switch c.App.StorageDriver {
	case "memory":
	case "postgres":
		if c.Postgres.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required"))
		}
		if c.Postgres.Port == "" {
			errs = append(errs, errors.New("DB_PORT is required"))
		}
		if c.Postgres.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.Postgres.DBName == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.App.StorageDriver))
	}

	switch c.Notify.Driver {
	case "log":
	case "kafka":
		if len(c.Notify.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka notify driver"))
		}
	case "rabbitmq":
		if c.Notify.AMQPURL == "" {
			errs = append(errs, errors.New("AMQP_URL is required for the rabbitmq notify driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown NOTIFY_DRIVER %q", c.Notify.Driver))
	}

	switch c.Payment.Verifier {
	case "trust":
	case "stripe":
		if c.Payment.StripeAPIKey == "" {
			errs = append(errs, errors.New("STRIPE_API_KEY is required for the stripe verifier"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PAYMENT_VERIFIER %q", c.Payment.Verifier))
	}

	if c.Order.ReserveMaxAttempts < 1 {
		errs = append(errs, errors.New("ORDER_RESERVE_MAX_ATTEMPTS must be at least 1"))
	}

	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func setInt32(dst *int32, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = int32(n)
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
