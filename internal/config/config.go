package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// DBConfig holds database connection settings.
type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// HTTPConfig holds the ops endpoint settings.
type HTTPConfig struct {
	Addr string
}

// BillingConfig tunes the billing rule engine and batch coordinator.
type BillingConfig struct {
	ReminderDays          int
	AutoGenerateBills     bool
	UsageAnomalyThreshold float64
	BatchSize             int
	MaxConcurrent         int
	BatchChunkDelay       time.Duration
	ElectricityUnitPrice  float64
	WaterUnitPrice        float64
	GasUnitPrice          float64
}

// AlertingConfig tunes the alert manager.
type AlertingConfig struct {
	WebhookURL    string
	SweepInterval time.Duration
	RulesFile     string
}

// ConsistencyConfig tunes the auditor sweep.
type ConsistencyConfig struct {
	SweepInterval time.Duration
	AutoRepair    bool
}

// Config is the process configuration.
type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Billing     BillingConfig
	Alerting    AlertingConfig
	Consistency ConsistencyConfig
}

// Load reads configuration from the environment and an optional app.env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", ":8090")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("BILLING_REMINDER_DAYS", 3)
	v.SetDefault("BILLING_AUTO_GENERATE", true)
	v.SetDefault("BILLING_USAGE_ANOMALY_THRESHOLD", 3.0)
	v.SetDefault("BILLING_BATCH_SIZE", 20)
	v.SetDefault("BILLING_MAX_CONCURRENT", 4)
	v.SetDefault("BILLING_BATCH_CHUNK_DELAY", "200ms")
	v.SetDefault("PRICE_ELECTRICITY", 0.6)
	v.SetDefault("PRICE_WATER", 3.5)
	v.SetDefault("PRICE_GAS", 2.5)
	v.SetDefault("ALERT_SWEEP_INTERVAL", "1m")
	v.SetDefault("CONSISTENCY_SWEEP_INTERVAL", "1h")
	v.SetDefault("CONSISTENCY_AUTO_REPAIR", false)

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Addr: v.GetString("HTTP_ADDR"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Billing: BillingConfig{
			ReminderDays:          v.GetInt("BILLING_REMINDER_DAYS"),
			AutoGenerateBills:     v.GetBool("BILLING_AUTO_GENERATE"),
			UsageAnomalyThreshold: v.GetFloat64("BILLING_USAGE_ANOMALY_THRESHOLD"),
			BatchSize:             v.GetInt("BILLING_BATCH_SIZE"),
			MaxConcurrent:         v.GetInt("BILLING_MAX_CONCURRENT"),
			BatchChunkDelay:       v.GetDuration("BILLING_BATCH_CHUNK_DELAY"),
			ElectricityUnitPrice:  v.GetFloat64("PRICE_ELECTRICITY"),
			WaterUnitPrice:        v.GetFloat64("PRICE_WATER"),
			GasUnitPrice:          v.GetFloat64("PRICE_GAS"),
		},
		Alerting: AlertingConfig{
			WebhookURL:    v.GetString("ALERT_WEBHOOK_URL"),
			SweepInterval: v.GetDuration("ALERT_SWEEP_INTERVAL"),
			RulesFile:     v.GetString("ALERT_RULES_FILE"),
		},
		Consistency: ConsistencyConfig{
			SweepInterval: v.GetDuration("CONSISTENCY_SWEEP_INTERVAL"),
			AutoRepair:    v.GetBool("CONSISTENCY_AUTO_REPAIR"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Billing.BatchSize <= 0 {
		return fmt.Errorf("BILLING_BATCH_SIZE must be positive")
	}
	if cfg.Billing.MaxConcurrent <= 0 {
		return fmt.Errorf("BILLING_MAX_CONCURRENT must be positive")
	}
	return nil
}
