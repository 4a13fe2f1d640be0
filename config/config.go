// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/cardinalhq/scanrunner/internal/distribution"
	"github.com/cardinalhq/scanrunner/internal/healthcheck"
	"github.com/cardinalhq/scanrunner/internal/intake"
	"github.com/cardinalhq/scanrunner/internal/thumbnail"
)

// Config aggregates configuration for the application.
type Config struct {
	Bookkeeping  BookkeepingConfig  `mapstructure:"bookkeeping"`
	Distribution DistributionConfig `mapstructure:"distribution"`
	Intake       IntakeConfig       `mapstructure:"intake"`
	Thumbnail    ThumbnailConfig    `mapstructure:"thumbnail"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Health       HealthConfig       `mapstructure:"health"`
	Debug        DebugConfig        `mapstructure:"debug"`
}

type BookkeepingConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type DistributionConfig struct {
	Policy       string `mapstructure:"policy"`
	TrackUsage   bool   `mapstructure:"track_usage"`
	PersistUsage bool   `mapstructure:"persist_usage"`
}

type IntakeConfig struct {
	CycleInterval    time.Duration `mapstructure:"cycle_interval"`
	FolderDelay      time.Duration `mapstructure:"folder_delay"`
	Propagation      string        `mapstructure:"propagation"`
	StrictThumbnails bool          `mapstructure:"strict_thumbnails"`
	ScannerIDs       []string      `mapstructure:"scanner_ids"`
	ScannerFile      string        `mapstructure:"scanner_file"`
}

type ThumbnailConfig struct {
	MaxWidth  int `mapstructure:"max_width"`
	MaxHeight int `mapstructure:"max_height"`
	Quality   int `mapstructure:"quality"`
}

type StorageConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	RoleARN      string `mapstructure:"role_arn"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	InsecureTLS  bool   `mapstructure:"insecure_tls"`
}

type HealthConfig struct {
	Port       int           `mapstructure:"port"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type DebugConfig struct {
	// PprofPort serves runtime profiles when positive.
	PprofPort int `mapstructure:"pprof_port"`
}

func DefaultConfig() *Config {
	return &Config{
		Bookkeeping: BookkeepingConfig{
			RequestTimeout: 30 * time.Second,
		},
		Distribution: DistributionConfig{
			Policy:     string(distribution.PolicyFixed),
			TrackUsage: true,
		},
		Intake: IntakeConfig{
			CycleInterval: 60 * time.Second,
			FolderDelay:   time.Second,
			Propagation:   string(intake.PropagationCopy),
		},
		Thumbnail: ThumbnailConfig{
			MaxWidth:  thumbnail.DefaultMaxWidth,
			MaxHeight: thumbnail.DefaultMaxHeight,
			Quality:   thumbnail.DefaultQuality,
		},
		Health: HealthConfig{
			Port: healthcheck.GetConfigFromEnv().Port,
		},
	}
}

// Load reads configuration from a file and environment variables.
// With an empty path, config.yaml in the working directory is used if it
// exists. Environment variables use the prefix "SCANRUNNER" and the dot
// character in keys is replaced by an underscore. For example,
// "bookkeeping.base_url" becomes "SCANRUNNER_BOOKKEEPING_BASE_URL".
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("SCANRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	// From the environment the list arrives as one comma-separated string.
	if raw, ok := v.Get("intake.scanner_ids").(string); ok {
		cfg.Intake.ScannerIDs = splitList(raw)
	}
	cfg.Bookkeeping.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Bookkeeping.BaseURL), "/")
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.Bookkeeping.BaseURL == "" {
		errs = multierror.Append(errs, errors.New("bookkeeping.base_url is required"))
	} else if u, err := url.Parse(c.Bookkeeping.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = multierror.Append(errs, fmt.Errorf("bookkeeping.base_url %q must be an http(s) URL", c.Bookkeeping.BaseURL))
	}
	if c.Bookkeeping.RequestTimeout <= 0 {
		errs = multierror.Append(errs, errors.New("bookkeeping.request_timeout must be positive"))
	}
	if _, err := distribution.ParsePolicy(c.Distribution.Policy); err != nil {
		errs = multierror.Append(errs, err)
	}
	if _, err := intake.ParsePropagation(c.Intake.Propagation); err != nil {
		errs = multierror.Append(errs, err)
	}
	if c.Intake.CycleInterval <= 0 {
		errs = multierror.Append(errs, errors.New("intake.cycle_interval must be positive"))
	}
	if c.Intake.FolderDelay < 0 {
		errs = multierror.Append(errs, errors.New("intake.folder_delay must not be negative"))
	}
	if c.Thumbnail.MaxWidth <= 0 || c.Thumbnail.MaxHeight <= 0 {
		errs = multierror.Append(errs, errors.New("thumbnail.max_width and thumbnail.max_height must be positive"))
	}
	if c.Thumbnail.Quality < 1 || c.Thumbnail.Quality > 100 {
		errs = multierror.Append(errs, fmt.Errorf("thumbnail.quality %d must be between 1 and 100", c.Thumbnail.Quality))
	}
	if c.Health.Port < 1 || c.Health.Port > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("health.port %d is out of range", c.Health.Port))
	}
	if c.Debug.PprofPort < 0 || c.Debug.PprofPort > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("debug.pprof_port %d is out of range", c.Debug.PprofPort))
	}
	if c.Health.StaleAfter < 0 {
		errs = multierror.Append(errs, errors.New("health.stale_after must not be negative"))
	}
	return errs.ErrorOrNil()
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
