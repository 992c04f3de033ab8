package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// ConfigPathEnvVar points at an optional YAML config file.
	ConfigPathEnvVar = "CONFIG_PATH"
	// EnvPrefix marks generic overrides: FULFILLMENT_<SECTION>_<KEY>.
	EnvPrefix = "FULFILLMENT_"
)

// legacyEnv keeps the variable names the binaries have always read.
var legacyEnv = map[string]string{
	"environment":             "environment",
	"port":                    "server.port",
	"log_level":               "logging.level",
	"log_format":              "logging.format",
	"database_url":            "database.url",
	"event_store_backend":     "event_store.backend",
	"read_store_backend":      "event_store.read_store",
	"dynamodb_table":          "event_store.dynamo_table",
	"dynamodb_snapshot_table": "event_store.dynamo_snapshot_table",
	"kafka_enabled":           "kafka.enabled",
	"kafka_brokers":           "kafka.brokers",
	"kafka_topic":             "kafka.topic",
	"kafka_group_id":          "kafka.consumer_group",
	"redis_addr":              "redis.addr",
	"redis_password":          "redis.password",
	"smtp_host":               "notification.smtp.host",
	"smtp_port":               "notification.smtp.port",
	"smtp_from":               "notification.smtp.from",
	"smtp_username":           "notification.smtp.username",
	"smtp_password":           "notification.smtp.password",
	"logistics_base_url":      "logistics.base_url",
	"logistics_api_key":       "logistics.api_key",
	"low_stock_threshold":     "inventory.low_stock_threshold",
}

// sections lists top-level keys; longer names first so event_store wins over event.
var sections = func() []string {
	s := []string{
		"server", "logging", "database", "event_store", "kafka", "jobs", "redis",
		"inventory", "orders", "logistics", "notification", "scheduler",
	}
	sort.Slice(s, func(i, j int) bool { return len(s[i]) > len(s[j]) })
	return s
}()

// nested are second-level groups whose keys contain underscores.
var nested = map[string][]string{
	"notification": {"smtp", "email_api", "sms", "whatsapp"},
	"logistics":    {"sender"},
}

var sliceKeys = map[string]bool{
	"kafka.brokers":              true,
	"inventory.alert_recipients": true,
	"notification.admin_emails":  true,
}

const categoryThresholdsKey = "inventory.category_thresholds"

// Load reads configuration: struct defaults, then the YAML file named by
// CONFIG_PATH (if any), then environment variables.
func Load() (*Config, error) {
	return load(os.Getenv(ConfigPathEnvVar))
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	normalizeThresholds(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envValue maps an environment variable to a koanf key and value. Unknown
// variables map to "" and are skipped.
func envValue(name, value string) (string, any) {
	key := envKey(name)
	if key == "" {
		return "", nil
	}
	if sliceKeys[key] {
		return key, splitList(value)
	}
	if key == categoryThresholdsKey {
		return key, parseThresholds(value)
	}
	return key, value
}

func envKey(name string) string {
	lower := strings.ToLower(name)
	if key, ok := legacyEnv[lower]; ok {
		return key
	}
	if !strings.HasPrefix(name, EnvPrefix) {
		return ""
	}

	rest := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	for _, section := range sections {
		if !strings.HasPrefix(rest, section+"_") {
			continue
		}
		field := strings.TrimPrefix(rest, section+"_")
		for _, group := range nested[section] {
			if strings.HasPrefix(field, group+"_") {
				return section + "." + group + "." + strings.TrimPrefix(field, group+"_")
			}
		}
		return section + "." + field
	}
	if rest == "environment" {
		return rest
	}
	return ""
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseThresholds reads "snacks:5,beverages:20".
func parseThresholds(value string) map[string]any {
	out := make(map[string]any)
	for _, pair := range splitList(value) {
		name, raw, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		out[strings.TrimSpace(name)] = n
	}
	return out
}

func normalizeThresholds(cfg *Config) {
	if len(cfg.Inventory.CategoryThresholds) == 0 {
		return
	}
	normalized := make(map[string]int, len(cfg.Inventory.CategoryThresholds))
	for category, t := range cfg.Inventory.CategoryThresholds {
		normalized[strings.ToLower(category)] = t
	}
	cfg.Inventory.CategoryThresholds = normalized
}
