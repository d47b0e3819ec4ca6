package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	OrderLog     OrderLogConfig     `yaml:"order_log"`
	Events       EventsConfig       `yaml:"events"`
	Redis        RedisConfig        `yaml:"redis"`
	MySQL        MySQLConfig        `yaml:"mysql"`
	Reservation  ReservationConfig  `yaml:"reservation"`
	Compensation CompensationConfig `yaml:"compensation"`
	Reconciler   ReconcilerConfig   `yaml:"reconciler"`
	Tracing      TracingConfig      `yaml:"tracing"`
	// Seed sets initial stock per item at startup.
	Seed map[string]int64 `yaml:"seed" validate:"dive,gte=0"`
}

type ServiceConfig struct {
	Name            string        `yaml:"name" validate:"required"`
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr" validate:"required"`
	LogLevel        string        `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type LedgerConfig struct {
	// Backend is one of memory, redis, mysql or remote.
	Backend string `yaml:"backend" validate:"oneof=memory redis mysql remote"`
	// RemoteAddr is the inventory service address for the remote backend.
	RemoteAddr     string        `yaml:"remote_addr" validate:"required_if=Backend remote"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

type OrderLogConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory mysql"`
}

type EventsConfig struct {
	Backend        string        `yaml:"backend" validate:"oneof=none log kafka rabbitmq"`
	KafkaBrokers   []string      `yaml:"kafka_brokers" validate:"required_if=Backend kafka"`
	KafkaTopic     string        `yaml:"kafka_topic" validate:"required_if=Backend kafka"`
	AMQPURL        string        `yaml:"amqp_url" validate:"required_if=Backend rabbitmq"`
	AMQPExchange   string        `yaml:"amqp_exchange" validate:"required_if=Backend rabbitmq"`
	AMQPMaxRetry   int           `yaml:"amqp_max_retry" validate:"gte=0"`
	PublishTimeout time.Duration `yaml:"publish_timeout" validate:"gt=0"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	PoolSize int    `yaml:"pool_size" validate:"gt=0"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

type ReservationConfig struct {
	MaxConflictRetries int           `yaml:"max_conflict_retries" validate:"gt=0"`
	MaxStorageRetries  int           `yaml:"max_storage_retries" validate:"gte=0"`
	BackoffBase        time.Duration `yaml:"backoff_base" validate:"gt=0"`
	BackoffMax         time.Duration `yaml:"backoff_max" validate:"gtefield=BackoffBase"`
}

type CompensationConfig struct {
	Workers     int           `yaml:"workers" validate:"gt=0"`
	QueueSize   int           `yaml:"queue_size" validate:"gte=0"`
	AlertAfter  int           `yaml:"alert_after" validate:"gt=0"`
	BackoffBase time.Duration `yaml:"backoff_base" validate:"gt=0"`
	BackoffMax  time.Duration `yaml:"backoff_max" validate:"gtefield=BackoffBase"`
}

type ReconcilerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval" validate:"gt=0"`
	StaleAfter time.Duration `yaml:"stale_after" validate:"gt=0"`
	BatchSize  int           `yaml:"batch_size" validate:"gt=0"`
}

type TracingConfig struct {
	// JaegerEndpoint disables tracing export when empty.
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "order-service",
			HTTPAddr:        ":8080",
			GRPCAddr:        ":50051",
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
		},
		Ledger:   LedgerConfig{Backend: "memory", RequestTimeout: 2 * time.Second},
		OrderLog: OrderLogConfig{Backend: "memory"},
		Events: EventsConfig{
			Backend:        "log",
			KafkaTopic:     "order-events",
			AMQPExchange:   "order.events",
			AMQPMaxRetry:   5,
			PublishTimeout: 2 * time.Second,
		},
		Redis: RedisConfig{Addr: "localhost:6379", PoolSize: 100},
		MySQL: MySQLConfig{
			DSN:             "root:root@tcp(localhost:3306)/inventory?parseTime=true&multiStatements=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Reservation: ReservationConfig{
			MaxConflictRetries: 3,
			MaxStorageRetries:  3,
			BackoffBase:        5 * time.Millisecond,
			BackoffMax:         100 * time.Millisecond,
		},
		Compensation: CompensationConfig{
			Workers:     4,
			QueueSize:   1024,
			AlertAfter:  5,
			BackoffBase: 50 * time.Millisecond,
			BackoffMax:  5 * time.Second,
		},
		Reconciler: ReconcilerConfig{
			Enabled:    true,
			Interval:   30 * time.Second,
			StaleAfter: 2 * time.Minute,
			BatchSize:  100,
		},
	}
}

// Load reads path over the defaults (an empty path skips the file), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Service.HTTPAddr, "HTTP_ADDR")
	setString(&c.Service.GRPCAddr, "GRPC_ADDR")
	setString(&c.Service.LogLevel, "LOG_LEVEL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.MySQL.DSN, "MYSQL_DSN")
	setString(&c.Ledger.Backend, "LEDGER_BACKEND")
	setString(&c.Ledger.RemoteAddr, "INVENTORY_ADDR")
	setString(&c.OrderLog.Backend, "ORDER_LOG_BACKEND")
	setString(&c.Events.Backend, "EVENTS_BACKEND")
	setString(&c.Events.AMQPURL, "AMQP_URL")
	setString(&c.Tracing.JaegerEndpoint, "JAEGER_ENDPOINT")

	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok && v != "" {
		c.Events.KafkaBrokers = splitList(v)
	}
}

var validate = validator.New()

// Validate checks backends and retry settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+" ("+fe.Tag()+")")
			}
			return errors.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return errors.Wrap(err, "invalid config")
	}
	if c.Ledger.Backend == "redis" && c.Redis.Addr == "" {
		return errors.New("invalid config: redis ledger needs redis.addr")
	}
	if (c.Ledger.Backend == "mysql" || c.OrderLog.Backend == "mysql") && c.MySQL.DSN == "" {
		return errors.New("invalid config: mysql backend needs mysql.dsn")
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
