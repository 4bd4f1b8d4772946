package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the Telecare backend.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Telemedicine TelemedicineConfig `mapstructure:"telemedicine"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	LogLevel       string   `mapstructure:"log_level"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures the token settings the orchestrator consumes.
//
// The platform issues access tokens elsewhere; this service only validates
// them. Join links are signed locally with a dedicated secret so a leaked
// link secret never compromises platform credentials.
type AuthConfig struct {
	JWT      JWTSettings      `mapstructure:"jwt"`
	JoinLink JoinLinkSettings `mapstructure:"join_link"`
}

// JWTSettings configures validation of platform-issued access tokens.
type JWTSettings struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// JoinLinkSettings configures the patient join-link issuer.
type JoinLinkSettings struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// TelemedicineConfig holds session orchestration settings.
type TelemedicineConfig struct {
	// EncryptionKey is the deployment-scoped key material for the encrypted
	// chat/file channel. It must come from configuration or a secret store,
	// never be generated at start-up, or restarts break decryption.
	EncryptionKey string `mapstructure:"encryption_key"`

	MaxParticipants   int           `mapstructure:"max_participants"`
	ConsentTTL        time.Duration `mapstructure:"consent_ttl"`
	OutboundQueueSize int           `mapstructure:"outbound_queue_size"`

	// ConsentVersions maps consent type to the currently required consent
	// text version. Raising a version forces re-consent for that type.
	ConsentVersions map[string]string `mapstructure:"consent_versions"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("TELECARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// Validate checks that the secrets the orchestrator cannot run without are present.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(c.Auth.JWT.Secret) == "" {
		return errors.New("auth.jwt.secret must be configured")
	}
	if strings.TrimSpace(c.Auth.JoinLink.Secret) == "" {
		return errors.New("auth.join_link.secret must be configured")
	}
	if strings.TrimSpace(c.Telemedicine.EncryptionKey) == "" {
		return errors.New("telemedicine.encryption_key must be configured")
	}
	if c.Telemedicine.MaxParticipants < 2 {
		return fmt.Errorf("telemedicine.max_participants must be at least 2 (got %d)", c.Telemedicine.MaxParticipants)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/telecare.sqlite")

	v.SetDefault("auth.join_link.ttl", "24h")

	v.SetDefault("telemedicine.max_participants", 2)
	v.SetDefault("telemedicine.consent_ttl", "24h")
	v.SetDefault("telemedicine.outbound_queue_size", 64)
	v.SetDefault("telemedicine.consent_versions", map[string]string{
		"recording":      "1.0",
		"screen_sharing": "1.0",
		"data_sharing":   "1.0",
	})

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
