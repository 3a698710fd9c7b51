package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration of the control plane.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig describes the admin HTTP API server.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig describes the PostgreSQL connection. An empty URL
// switches the process to the in-memory store.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig describes the Redis connection used for control signals
// (hold switch, rule-set updates). An empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds the admin API bearer-token settings (HS256).
// AccessKey is what operators present at login; Secret signs the
// tokens they get back.
type AuthConfig struct {
	Secret    string        `mapstructure:"secret"`
	AccessKey string        `mapstructure:"access_key"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// SchedulerConfig tunes the cron loop.
type SchedulerConfig struct {
	Tick          time.Duration `mapstructure:"tick"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	RunOnStart    bool          `mapstructure:"run_on_start"`
	Timezone      string        `mapstructure:"timezone"`
}

// EngineConfig tunes orchestration and the audit pipeline.
type EngineConfig struct {
	MaxActionsPerCycle  int           `mapstructure:"max_actions_per_cycle"`
	QueueAlertThreshold int           `mapstructure:"queue_alert_threshold"`
	AuditBufferSize     int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval  time.Duration `mapstructure:"audit_flush_interval"`
}

// NotifyConfig points at the notification back-end.
type NotifyConfig struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`
	Channel         string `mapstructure:"channel"`
	RatePerSecond   int    `mapstructure:"rate_per_second"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig merges file, ENV and defaults. ENV overrides the file:
// SERVER_PORT=9000 overrides server.port.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// no file: ENV and defaults only
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("scheduler.tick", 30*time.Second)
	v.SetDefault("scheduler.max_concurrent", 4)
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("engine.max_actions_per_cycle", 50)
	v.SetDefault("engine.queue_alert_threshold", 25)
	v.SetDefault("engine.audit_buffer_size", 1000)
	v.SetDefault("engine.audit_flush_interval", 1*time.Second)
	v.SetDefault("notify.rate_per_second", 5)
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
