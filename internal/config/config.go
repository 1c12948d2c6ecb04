package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/telemetryrush/replay/internal/channel"
	"github.com/telemetryrush/replay/internal/reconcile"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "telemetry_sync.cfg.json"

// Feeds lists the channel names in the order they are attached.
var Feeds = []string{channel.Telemetry, channel.Laps, channel.Leaderboard}

var validate = validator.New()

// ChannelConfig describes one feed endpoint.
type ChannelConfig struct {
	Name    string `json:"name" mapstructure:"name" validate:"required"`
	URL     string `json:"url" mapstructure:"url" validate:"required,url"`
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
}

// ServerConfig holds the status/control HTTP surface settings.
type ServerConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address" validate:"required_if=Enabled true"`
}

// PollConfig holds the pull-surface fallback settings.
type PollConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	BaseURL  string        `json:"baseUrl" mapstructure:"baseUrl" validate:"omitempty,url"`
	Interval time.Duration `json:"interval" mapstructure:"interval" validate:"gt=0"`
}

// TrackConfig points at the track definition.
type TrackConfig struct {
	File   string  `json:"file" mapstructure:"file"`
	Length float64 `json:"length" mapstructure:"length" validate:"gte=0"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds the InfluxDB metrics sink settings.
type InfluxConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Protocol string        `json:"protocol" mapstructure:"protocol" validate:"oneof=http https"`
	Host     string        `json:"host" mapstructure:"host"`
	Port     string        `json:"port" mapstructure:"port"`
	Token    string        `json:"token" mapstructure:"token"`
	Org      string        `json:"org" mapstructure:"org"`
	Bucket   string        `json:"bucket" mapstructure:"bucket" validate:"required"`
	Interval time.Duration `json:"interval" mapstructure:"interval" validate:"gte=0"`
}

// GraylogConfig holds the GELF log sink settings.
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address" validate:"required_if=Enabled true"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("channels.telemetry.url", "ws://localhost:8765")
	viper.SetDefault("channels.laps.url", "ws://localhost:8766")
	viper.SetDefault("channels.leaderboard.url", "ws://localhost:8767")
	for _, name := range Feeds {
		viper.SetDefault("channels."+name+".enabled", true)
	}
	viper.SetDefault("queue.limit", 10000)

	def := channel.DefaultPolicy()
	viper.SetDefault("reconnect.enabled", def.Enabled)
	viper.SetDefault("reconnect.base", def.Base.String())
	viper.SetDefault("reconnect.multiplier", def.Multiplier)
	viper.SetDefault("reconnect.cap", def.Cap.String())
	viper.SetDefault("reconnect.maxAttempts", def.MaxAttempts)

	rc := reconcile.DefaultConfig()
	viper.SetDefault("reconciler.divergenceTolerance", rc.DivergenceTolerance)
	viper.SetDefault("reconciler.maxAccel", rc.MaxAccel)
	viper.SetDefault("reconciler.maxBrake", rc.MaxBrake)
	viper.SetDefault("reconciler.maxSpeed", rc.MaxSpeed)
	viper.SetDefault("reconciler.interpolate", rc.Interpolate)
	viper.SetDefault("reconciler.wrapFraction", rc.WrapFraction)
	viper.SetDefault("reconciler.throttleFullScale", rc.ThrottleFullScale)
	viper.SetDefault("reconciler.brakeFullScale", rc.BrakeFullScale)

	viper.SetDefault("track.file", "")
	viper.SetDefault("track.length", rc.PathLength)

	viper.SetDefault("tick.rate", 60)

	viper.SetDefault("server.enabled", false)
	viper.SetDefault("server.address", ":8090")

	viper.SetDefault("poll.enabled", false)
	viper.SetDefault("poll.baseUrl", "http://localhost:8000")
	viper.SetDefault("poll.interval", "250ms")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "telemetry-metrics")
	viper.SetDefault("influx.bucket", "telemetry_sync")
	viper.SetDefault("influx.interval", "1s")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "telemetry-sync")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetChannelConfigs returns the feed endpoints in attach order.
func GetChannelConfigs() []ChannelConfig {
	out := make([]ChannelConfig, 0, len(Feeds))
	for _, name := range Feeds {
		out = append(out, ChannelConfig{
			Name:    name,
			URL:     viper.GetString("channels." + name + ".url"),
			Enabled: viper.GetBool("channels." + name + ".enabled"),
		})
	}
	return out
}

// GetReconnectPolicy returns the reconnect policy shared by all channels.
func GetReconnectPolicy() channel.Policy {
	return channel.Policy{
		Enabled:     viper.GetBool("reconnect.enabled"),
		Base:        viper.GetDuration("reconnect.base"),
		Multiplier:  viper.GetFloat64("reconnect.multiplier"),
		Cap:         viper.GetDuration("reconnect.cap"),
		MaxAttempts: viper.GetInt("reconnect.maxAttempts"),
	}
}

// GetReconcilerConfig returns the reconciler tunables. The path length
// comes from track.length and may be replaced by the track file's.
func GetReconcilerConfig() reconcile.Config {
	return reconcile.Config{
		PathLength:          viper.GetFloat64("track.length"),
		DivergenceTolerance: viper.GetFloat64("reconciler.divergenceTolerance"),
		MaxAccel:            viper.GetFloat64("reconciler.maxAccel"),
		MaxBrake:            viper.GetFloat64("reconciler.maxBrake"),
		MaxSpeed:            viper.GetFloat64("reconciler.maxSpeed"),
		Interpolate:         viper.GetBool("reconciler.interpolate"),
		WrapFraction:        viper.GetFloat64("reconciler.wrapFraction"),
		ThrottleFullScale:   viper.GetFloat64("reconciler.throttleFullScale"),
		BrakeFullScale:      viper.GetFloat64("reconciler.brakeFullScale"),
	}
}

// GetTrackConfig returns the track settings.
func GetTrackConfig() TrackConfig {
	return TrackConfig{
		File:   viper.GetString("track.file"),
		Length: viper.GetFloat64("track.length"),
	}
}

// GetTickRate returns the simulation rate in Hz.
func GetTickRate() int {
	return viper.GetInt("tick.rate")
}

// GetQueueLimit returns the hand-off queue bound.
func GetQueueLimit() int {
	return viper.GetInt("queue.limit")
}

// GetServerConfig returns the HTTP surface settings.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Enabled: viper.GetBool("server.enabled"),
		Address: viper.GetString("server.address"),
	}
}

// GetPollConfig returns the pull-surface settings.
func GetPollConfig() PollConfig {
	return PollConfig{
		Enabled:  viper.GetBool("poll.enabled"),
		BaseURL:  viper.GetString("poll.baseUrl"),
		Interval: viper.GetDuration("poll.interval"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Protocol: viper.GetString("influx.protocol"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
		Interval: viper.GetDuration("influx.interval"),
	}
}

// GetGraylogConfig returns the GELF sink settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// Validate checks every typed section and reports all problems at once.
func Validate() error {
	var errs []error
	check := func(section string, v any) {
		if err := validate.Struct(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	for _, c := range GetChannelConfigs() {
		if c.Enabled {
			check("channels."+c.Name, c)
		}
	}
	policy := GetReconnectPolicy()
	check("reconnect", policy)
	if err := policy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("reconnect: %w", err))
	}
	check("reconciler", GetReconcilerConfig())
	check("track", GetTrackConfig())
	check("server", GetServerConfig())
	check("poll", GetPollConfig())
	check("influx", GetInfluxConfig())
	check("graylog", GetGraylogConfig())

	if rate := GetTickRate(); rate <= 0 || rate > 1000 {
		errs = append(errs, fmt.Errorf("tick.rate must be within 1..1000, got %d", rate))
	}
	return errors.Join(errs...)
}
