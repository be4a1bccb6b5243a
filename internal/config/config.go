// Package config loads run settings from defaults, an optional YAML file and
// STATEPOP_ environment variables, in that order of precedence.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"statepop/internal/blob"
	"statepop/internal/database"
	"statepop/internal/fetch"
	"statepop/internal/types"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "STATEPOP_"

// Config holds all pipeline configuration.
type Config struct {
	API       APIConfig       `yaml:"api" envPrefix:"API_"`
	Output    OutputConfig    `yaml:"output" envPrefix:"OUTPUT_"`
	Filter    FilterConfig    `yaml:"filter" envPrefix:"FILTER_"`
	Group     GroupConfig     `yaml:"group" envPrefix:"GROUP_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DB_"`
	Shapefile ShapefileConfig `yaml:"shapefile" envPrefix:"SHAPEFILE_"`
	Metrics   MetricsConfig   `yaml:"metrics" envPrefix:"METRICS_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
}

// APIConfig describes the upstream request.
type APIConfig struct {
	BaseURL string            `yaml:"base_url" env:"BASE_URL"`
	Path    string            `yaml:"path" env:"PATH"`
	Params  map[string]string `yaml:"params" env:"PARAMS"` // k:v,k2:v2 in the environment
	Timeout string            `yaml:"timeout" env:"TIMEOUT"` // empty waits indefinitely
}

// OutputConfig selects where artifacts are written.
type OutputConfig struct {
	Driver    string   `yaml:"driver" env:"DRIVER"` // fs, s3, memory
	Dir       string   `yaml:"dir" env:"DIR"`
	CreateDir bool     `yaml:"create_dir" env:"CREATE_DIR"` // fs: create Dir on first write
	S3        S3Config `yaml:"s3" envPrefix:"S3_"`
}

// S3Config configures the s3 output driver.
type S3Config struct {
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Region          string `yaml:"region" env:"REGION"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	Prefix          string `yaml:"prefix" env:"PREFIX"`
	PathStyle       bool   `yaml:"path_style" env:"PATH_STYLE"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	SessionToken    string `yaml:"session_token" env:"SESSION_TOKEN"`
}

// FilterConfig selects the records kept for the filtered artifact.
type FilterConfig struct {
	Field string `yaml:"field" env:"FIELD"`
	Value string `yaml:"value" env:"VALUE"`
}

// GroupConfig selects the grouping key of the nested artifact.
type GroupConfig struct {
	Field string `yaml:"field" env:"FIELD"`
}

// DatabaseConfig configures the optional database mirror. An empty driver
// disables it.
type DatabaseConfig struct {
	Driver         string `yaml:"driver" env:"DRIVER"` // oracle, sqlite, postgres
	Host           string `yaml:"host" env:"HOST"`
	Port           string `yaml:"port" env:"PORT"`
	Service        string `yaml:"service" env:"SERVICE"`
	Username       string `yaml:"username" env:"USERNAME"`
	Password       string `yaml:"password" env:"PASSWORD"`
	WalletLocation string `yaml:"wallet_location" env:"WALLET_LOCATION"`
	Path           string `yaml:"path" env:"PATH"`
	URL            string `yaml:"url" env:"URL"`
	Table          string `yaml:"table" env:"TABLE"`
}

// ShapefileConfig enables the attribute-only shapefile export when Path is set.
type ShapefileConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// MetricsConfig enables the node_exporter textfile when Textfile is set.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" env:"TEXTFILE"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level" env:"LEVEL"` // debug, info, warn, error
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: fetch.DefaultBaseURL,
			Path:    "data",
			Params: map[string]string{
				"drilldowns": "State",
				"measures":   "Population",
			},
		},
		Output: OutputConfig{
			Driver: string(blob.DriverFilesystem),
			Dir:    blob.DefaultRoot,
		},
		Filter: FilterConfig{
			Field: string(types.FieldState),
			Value: "Virginia",
		},
		Group: GroupConfig{
			Field: string(types.FieldState),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (a
// missing file is not an error) and environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration and canonicalizes field names.
func (c *Config) Validate() error {
	if c.API.Path == "" {
		return fmt.Errorf("api.path is required")
	}
	if _, err := time.ParseDuration(c.API.Timeout); c.API.Timeout != "" && err != nil {
		return fmt.Errorf("api.timeout: %w", err)
	}

	f, err := types.ParseField(c.Filter.Field)
	if err != nil {
		return fmt.Errorf("filter.field: %w", err)
	}
	c.Filter.Field = string(f)
	g, err := types.ParseField(c.Group.Field)
	if err != nil {
		return fmt.Errorf("group.field: %w", err)
	}
	c.Group.Field = string(g)

	switch blob.Driver(c.Output.Driver) {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Output.S3.Bucket == "" {
			return fmt.Errorf("output.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("invalid output driver: %s (valid: fs, s3, memory)", c.Output.Driver)
	}

	switch database.Driver(c.Database.Driver) {
	case "":
	case database.DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case database.DriverPostgres:
		if c.Database.URL == "" && c.Database.Host == "" {
			return fmt.Errorf("database.url or database.host is required for postgres")
		}
	case database.DriverOracle:
		if c.Database.Host == "" || c.Database.Service == "" || c.Database.Username == "" {
			return fmt.Errorf("database.host, database.service and database.username are required for oracle")
		}
	default:
		return fmt.Errorf("invalid database driver: %s (valid: oracle, sqlite, postgres)", c.Database.Driver)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// FilterField returns the filter field. Call Validate first.
func (c *Config) FilterField() types.Field { return types.Field(c.Filter.Field) }

// GroupField returns the grouping field. Call Validate first.
func (c *Config) GroupField() types.Field { return types.Field(c.Group.Field) }

// Params returns the API query parameters.
func (c *Config) Params() url.Values {
	v := make(url.Values, len(c.API.Params))
	for k, p := range c.API.Params {
		v.Set(k, p)
	}
	return v
}

// GetAPITimeout returns the API timeout as a duration. Zero means the
// request is bounded only by its context.
func (c *Config) GetAPITimeout() time.Duration {
	if c.API.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.API.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// BlobConfig converts the output section for blob.Open.
func (c *Config) BlobConfig() blob.Config {
	s3 := c.Output.S3
	return blob.Config{
		Driver:     blob.Driver(c.Output.Driver),
		Root:       c.Output.Dir,
		CreateRoot: c.Output.CreateDir,
		S3: blob.S3Config{
			Bucket:          s3.Bucket,
			Region:          s3.Region,
			Endpoint:        s3.Endpoint,
			Prefix:          s3.Prefix,
			PathStyle:       s3.PathStyle,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			SessionToken:    s3.SessionToken,
		},
	}
}

// DatabaseEnabled reports whether a database mirror is configured.
func (c *Config) DatabaseEnabled() bool { return c.Database.Driver != "" }

// DatabaseConfig converts the database section for database.Open.
func (c *Config) DatabaseConfig() database.Config {
	d := c.Database
	return database.Config{
		Driver:         database.Driver(d.Driver),
		Host:           d.Host,
		Port:           d.Port,
		Service:        d.Service,
		Username:       d.Username,
		Password:       d.Password,
		WalletLocation: d.WalletLocation,
		Path:           d.Path,
		URL:            d.URL,
		Table:          d.Table,
	}
}
