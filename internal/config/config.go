// internal/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/2223010198-web/MonicGpio/internal/auth"
	"github.com/2223010198-web/MonicGpio/internal/ingest"
)

// EnvPrefix prefixes environment overrides, e.g. FOREST_MQTT_BROKER.
const EnvPrefix = "FOREST"

type Config struct {
	Server struct {
		DataPort int `mapstructure:"data_port"`
		UIPort   int `mapstructure:"ui_port"`
	} `mapstructure:"server"`
	MQTT     MQTT          `mapstructure:"mqtt"`
	Topics   ingest.Topics `mapstructure:"topics"`
	Monitor  Monitor       `mapstructure:"monitor"`
	History  History       `mapstructure:"history"`
	Timeline Timeline      `mapstructure:"timeline"`
	Alerts   Alerts        `mapstructure:"alerts"`
	Anomaly  Anomaly       `mapstructure:"anomaly"`
	Auth     auth.Config   `mapstructure:"auth"`
	Archive  Archive       `mapstructure:"archive"`
	NATS     NATS          `mapstructure:"nats"`
}

type MQTT struct {
	Broker         string        `mapstructure:"broker"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ClientIDPrefix string        `mapstructure:"client_id_prefix"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
}

type Monitor struct {
	RefreshInterval     time.Duration `mapstructure:"refresh_interval"`
	DisconnectThreshold time.Duration `mapstructure:"disconnect_threshold"`
}

type History struct {
	Capacity int `mapstructure:"capacity"`
}

type Timeline struct {
	Capacity       int           `mapstructure:"capacity"`
	RepeatCooldown time.Duration `mapstructure:"repeat_cooldown"`
}

type Alerts struct {
	Capacity int  `mapstructure:"capacity"`
	Dedupe   bool `mapstructure:"dedupe"`
}

type Anomaly struct {
	Window        int     `mapstructure:"window"`
	MinSamples    int     `mapstructure:"min_samples"`
	Trees         int     `mapstructure:"trees"`
	Subsample     int     `mapstructure:"subsample"`
	Contamination float64 `mapstructure:"contamination"`
}

// Archive configures the SQLite event archive. An empty path disables it.
type Archive struct {
	Path          string        `mapstructure:"path"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

// NATS configures event export. An empty URL disables it.
type NATS struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

var AppConfig Config

// LoadConfig reads config.yaml from path into AppConfig.
func LoadConfig(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	AppConfig = *cfg
	return nil
}

// Load reads config.yaml from path, applies FOREST_* environment overrides
// and falls back to defaults for anything unset. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Printf("Warning: no config file in %s, using defaults", path)
	}
	if err := overrideUsers(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.data_port", 8080)
	v.SetDefault("server.ui_port", 8081)

	v.SetDefault("mqtt.broker", "tcp://broker.hivemq.com:1883")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id_prefix", "forest-monitor-")
	v.SetDefault("mqtt.keep_alive", "60s")
	v.SetDefault("mqtt.connect_timeout", "10s")
	v.SetDefault("mqtt.retry_interval", "5s")

	topics := ingest.DefaultTopics()
	v.SetDefault("topics.sensors", topics.Sensors)
	v.SetDefault("topics.alerts", topics.Alerts)
	v.SetDefault("topics.monitor", topics.Monitor)
	v.SetDefault("topics.commands", topics.Commands)
	v.SetDefault("topics.device", topics.Device)

	v.SetDefault("monitor.refresh_interval", "1s")
	v.SetDefault("monitor.disconnect_threshold", "10s")
	v.SetDefault("history.capacity", 50)
	v.SetDefault("timeline.capacity", 10)
	v.SetDefault("timeline.repeat_cooldown", "0s")
	v.SetDefault("alerts.capacity", 5)
	v.SetDefault("alerts.dedupe", false)

	v.SetDefault("anomaly.window", 50)
	v.SetDefault("anomaly.min_samples", 20)
	v.SetDefault("anomaly.trees", 100)
	v.SetDefault("anomaly.subsample", 256)
	v.SetDefault("anomaly.contamination", 0.1)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiration", 60)
	v.SetDefault("auth.api_keys", []string{})

	v.SetDefault("archive.path", "forest-events.db")
	v.SetDefault("archive.retention", "720h")
	v.SetDefault("archive.sweep_schedule", "@every 1h")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "forest")
}

// overrideUsers applies FOREST_AUTH_USERS, a JSON array of
// {"username","password_hash","role"} objects, over the file's auth.users.
func overrideUsers(v *viper.Viper) error {
	key := EnvPrefix + "_AUTH_USERS"
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var users []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &users); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	v.Set("auth.users", users)
	return nil
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.DataPort <= 0 || c.Server.UIPort <= 0 {
		errs = append(errs, errors.New("server ports must be positive"))
	}
	if c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	}
	if c.Monitor.RefreshInterval <= 0 {
		errs = append(errs, errors.New("monitor.refresh_interval must be positive"))
	}
	if c.Monitor.DisconnectThreshold <= 0 {
		errs = append(errs, errors.New("monitor.disconnect_threshold must be positive"))
	}
	if c.History.Capacity <= 0 || c.Timeline.Capacity <= 0 || c.Alerts.Capacity <= 0 {
		errs = append(errs, errors.New("history, timeline and alert capacities must be positive"))
	}
	if c.Anomaly.MinSamples <= 0 || c.Anomaly.MinSamples > c.Anomaly.Window {
		errs = append(errs, fmt.Errorf("anomaly.min_samples must be in 1..%d", c.Anomaly.Window))
	}
	if c.Anomaly.Contamination <= 0 || c.Anomaly.Contamination >= 0.5 {
		errs = append(errs, fmt.Errorf("anomaly.contamination %.3f must be in (0, 0.5)", c.Anomaly.Contamination))
	}
	if c.Anomaly.Trees <= 0 || c.Anomaly.Subsample <= 0 {
		errs = append(errs, errors.New("anomaly.trees and anomaly.subsample must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
