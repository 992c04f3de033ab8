// Package config loads service configuration from defaults, an optional YAML
// file and the environment, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Config is the full configuration shared by every binary.
type Config struct {
	Environment  string             `koanf:"environment"`
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Database     DatabaseConfig     `koanf:"database"`
	EventStore   EventStoreConfig   `koanf:"event_store"`
	Kafka        KafkaConfig        `koanf:"kafka"`
	Jobs         JobsConfig         `koanf:"jobs"`
	Redis        RedisConfig        `koanf:"redis"`
	Inventory    InventoryConfig    `koanf:"inventory"`
	Orders       OrdersConfig       `koanf:"orders"`
	Logistics    LogisticsConfig    `koanf:"logistics"`
	Notification NotificationConfig `koanf:"notification"`
	Scheduler    SchedulerConfig    `koanf:"scheduler"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// RateLimit is requests per minute per client IP on /api; 0 disables it.
	RateLimit       int           `koanf:"rate_limit"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

type DatabaseConfig struct {
	URL          string `koanf:"url"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	Migrate      bool   `koanf:"migrate"`
}

// EventStoreConfig selects the event store backend.
type EventStoreConfig struct {
	// Backend is memory, postgres or dynamodb.
	Backend             string `koanf:"backend"`
	DynamoTable         string `koanf:"dynamo_table"`
	DynamoSnapshotTable string `koanf:"dynamo_snapshot_table"`
	// ReadStore is memory or postgres.
	ReadStore string `koanf:"read_store"`
}

// KafkaConfig carries domain event publishing. Disabled means events are
// projected inline in the writing process.
type KafkaConfig struct {
	Enabled       bool     `koanf:"enabled"`
	Brokers       []string `koanf:"brokers"`
	Topic         string   `koanf:"topic"`
	ConsumerGroup string   `koanf:"consumer_group"`
}

// JobsConfig configures the background job queue.
type JobsConfig struct {
	// Backend is memory or kafka.
	Backend         string        `koanf:"backend"`
	TopicPrefix     string        `koanf:"topic_prefix"`
	ConsumerGroup   string        `koanf:"consumer_group"`
	MaxRetries      int           `koanf:"max_retries"`
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`
	Multiplier      float64       `koanf:"multiplier"`
	PoisonTopic     string        `koanf:"poison_topic"`
	IdempotencyTTL  time.Duration `koanf:"idempotency_ttl"`
	HandlerTimeout  time.Duration `koanf:"handler_timeout"`
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type InventoryConfig struct {
	LowStockThreshold  int            `koanf:"low_stock_threshold"`
	CategoryThresholds map[string]int `koanf:"category_thresholds"`
	AlertRecipients    []string       `koanf:"alert_recipients"`
}

// ThresholdFor returns the low-stock threshold for a product category.
func (c InventoryConfig) ThresholdFor(category string) int {
	if t, ok := c.CategoryThresholds[strings.ToLower(category)]; ok {
		return t
	}
	return c.LowStockThreshold
}

type OrdersConfig struct {
	MaxDeliveryAttempts int `koanf:"max_delivery_attempts"`
}

type LogisticsConfig struct {
	// BaseURL empty selects the deterministic mock provider.
	BaseURL                string        `koanf:"base_url"`
	APIKey                 string        `koanf:"api_key"`
	Carrier                string        `koanf:"carrier"`
	Timeout                time.Duration `koanf:"timeout"`
	DeliveryType           string        `koanf:"delivery_type"`
	DefaultItemWeightGrams int           `koanf:"default_item_weight_grams"`
	SyncConcurrency        int           `koanf:"sync_concurrency"`
	SyncRatePerSecond      float64       `koanf:"sync_rate_per_second"`
	Sender                 AddressConfig `koanf:"sender"`
}

type AddressConfig struct {
	Name       string `koanf:"name"`
	Phone      string `koanf:"phone"`
	Line1      string `koanf:"line1"`
	City       string `koanf:"city"`
	State      string `koanf:"state"`
	PostalCode string `koanf:"postal_code"`
	Country    string `koanf:"country"`
}

type NotificationConfig struct {
	// PreferredEmail and PreferredSMS name a provider to rank first, or "auto".
	PreferredEmail string        `koanf:"preferred_email"`
	PreferredSMS   string        `koanf:"preferred_sms"`
	SendTimeout    time.Duration `koanf:"send_timeout"`
	AdminEmails    []string      `koanf:"admin_emails"`
	SMTP           SMTPConfig    `koanf:"smtp"`
	EmailAPI       HTTPProvider  `koanf:"email_api"`
	SMS            HTTPProvider  `koanf:"sms"`
	WhatsApp       HTTPProvider  `koanf:"whatsapp"`
}

type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	From     string `koanf:"from"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// HTTPProvider configures a JSON-over-HTTP messaging provider.
type HTTPProvider struct {
	Name    string `koanf:"name"`
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
	From    string `koanf:"from"`
}

type SchedulerConfig struct {
	Enabled               bool   `koanf:"enabled"`
	Timezone              string `koanf:"timezone"`
	ReconcileCron         string `koanf:"reconcile_cron"`
	LowStockCron          string `koanf:"low_stock_cron"`
	ShipmentSyncCron      string `koanf:"shipment_sync_cron"`
	BusinessHoursSyncCron string `koanf:"business_hours_sync_cron"`
}

// Defaults returns the built-in configuration without reading a file or the
// environment.
func Defaults() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			RateLimit:       600,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			Migrate:      true,
		},
		EventStore: EventStoreConfig{
			Backend:             "memory",
			ReadStore:           "memory",
			DynamoTable:         "events",
			DynamoSnapshotTable: "snapshots",
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			Topic:         "domain-events",
			ConsumerGroup: "fulfillment-projector",
		},
		Jobs: JobsConfig{
			Backend:         "memory",
			TopicPrefix:     "jobs.",
			ConsumerGroup:   "fulfillment-worker",
			MaxRetries:      5,
			InitialInterval: time.Second,
			MaxInterval:     time.Minute,
			Multiplier:      2,
			PoisonTopic:     "jobs.poison",
			IdempotencyTTL:  48 * time.Hour,
			HandlerTimeout:  5 * time.Minute,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Inventory: InventoryConfig{
			LowStockThreshold: 10,
		},
		Orders: OrdersConfig{MaxDeliveryAttempts: 3},
		Logistics: LogisticsConfig{
			Carrier:                "mock",
			Timeout:                15 * time.Second,
			DeliveryType:           "STANDARD",
			DefaultItemWeightGrams: 500,
			SyncConcurrency:        5,
			SyncRatePerSecond:      5,
		},
		Notification: NotificationConfig{
			PreferredEmail: "auto",
			PreferredSMS:   "auto",
			SendTimeout:    10 * time.Second,
			SMTP:           SMTPConfig{Port: "587"},
		},
		Scheduler: SchedulerConfig{
			Enabled:               true,
			Timezone:              "UTC",
			ReconcileCron:         "0 2 * * *",
			LowStockCron:          "0 8 * * *",
			ShipmentSyncCron:      "0 * * * *",
			BusinessHoursSyncCron: "*/30 9-18 * * 1-5",
		},
	}
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	if !slices.Contains([]string{"memory", "postgres", "dynamodb"}, c.EventStore.Backend) {
		errs = append(errs, fmt.Errorf("event_store.backend %q must be memory, postgres or dynamodb", c.EventStore.Backend))
	}
	if !slices.Contains([]string{"memory", "postgres"}, c.EventStore.ReadStore) {
		errs = append(errs, fmt.Errorf("event_store.read_store %q must be memory or postgres", c.EventStore.ReadStore))
	}
	if (c.EventStore.Backend == "postgres" || c.EventStore.ReadStore == "postgres") && c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required for the postgres backend"))
	}
	if c.EventStore.Backend == "dynamodb" && c.EventStore.ReadStore != "postgres" {
		errs = append(errs, errors.New("event_store.read_store must be postgres with the dynamodb backend, which projects through its Kinesis stream"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	if !slices.Contains([]string{"memory", "kafka"}, c.Jobs.Backend) {
		errs = append(errs, fmt.Errorf("jobs.backend %q must be memory or kafka", c.Jobs.Backend))
	}
	if c.Jobs.Backend == "kafka" && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required for the kafka job backend"))
	}
	// Kafka jobs run in separate worker processes that must share order and
	// notification state with the api.
	if c.Jobs.Backend == "kafka" && c.EventStore.Backend == "memory" {
		errs = append(errs, errors.New("event_store.backend must not be memory with the kafka job backend"))
	}
	if c.Jobs.Backend == "kafka" && c.EventStore.ReadStore == "memory" {
		errs = append(errs, errors.New("event_store.read_store must not be memory with the kafka job backend"))
	}
	if c.Jobs.MaxRetries < 0 {
		errs = append(errs, errors.New("jobs.max_retries must not be negative"))
	}
	if c.Jobs.Multiplier < 1 {
		errs = append(errs, errors.New("jobs.multiplier must be at least 1"))
	}
	if c.Inventory.LowStockThreshold < 0 {
		errs = append(errs, errors.New("inventory.low_stock_threshold must not be negative"))
	}
	for category, t := range c.Inventory.CategoryThresholds {
		if t < 0 {
			errs = append(errs, fmt.Errorf("inventory.category_thresholds.%s must not be negative", category))
		}
	}
	if c.Orders.MaxDeliveryAttempts < 1 {
		errs = append(errs, errors.New("orders.max_delivery_attempts must be at least 1"))
	}
	if c.Logistics.Timeout <= 0 {
		errs = append(errs, errors.New("logistics.timeout must be positive"))
	}
	if c.Logistics.SyncConcurrency < 1 {
		errs = append(errs, errors.New("logistics.sync_concurrency must be at least 1"))
	}
	if c.IsProduction() && c.Logistics.BaseURL == "" {
		errs = append(errs, errors.New("logistics.base_url is required in production"))
	}
	if c.Notification.SendTimeout <= 0 {
		errs = append(errs, errors.New("notification.send_timeout must be positive"))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}

	return errors.Join(errs...)
}
