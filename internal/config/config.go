package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/coffee-density/internal/boundary"
	"github.com/sells-group/coffee-density/internal/census"
	"github.com/sells-group/coffee-density/internal/output"
	"github.com/sells-group/coffee-density/internal/places"
)

// Config holds the full application configuration.
type Config struct {
	DataDir  string         `yaml:"data_dir" mapstructure:"data_dir"`
	Boundary BoundaryConfig `yaml:"boundary" mapstructure:"boundary"`
	Places   PlacesConfig   `yaml:"places" mapstructure:"places"`
	Census   CensusConfig   `yaml:"census" mapstructure:"census"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	HTTP     HTTPConfig     `yaml:"http" mapstructure:"http"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// BoundaryConfig configures the county boundary stage.
type BoundaryConfig struct {
	URL     string `yaml:"url" mapstructure:"url"`
	Country string `yaml:"country" mapstructure:"country"`
	File    string `yaml:"file" mapstructure:"file"`
}

// PlacesConfig configures how place files are read.
type PlacesConfig struct {
	Dir            string `yaml:"dir" mapstructure:"dir"`
	Category       string `yaml:"category" mapstructure:"category"`
	CategoryColumn string `yaml:"category_column" mapstructure:"category_column"`
	Workers        int    `yaml:"workers" mapstructure:"workers"`
	Progress       bool   `yaml:"progress" mapstructure:"progress"`
}

// CensusConfig configures the population stage.
type CensusConfig struct {
	URL              string `yaml:"url" mapstructure:"url"`
	PopulationColumn string `yaml:"population_column" mapstructure:"population_column"`
}

// OutputConfig configures the final file.
type OutputConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// HTTPConfig configures remote downloads.
type HTTPConfig struct {
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// BoundaryPath returns the intermediate boundary file. A relative
// boundary.file is resolved against data_dir.
func (c *Config) BoundaryPath() string {
	if filepath.IsAbs(c.Boundary.File) {
		return c.Boundary.File
	}
	return filepath.Join(c.DataDir, c.Boundary.File)
}

// PlacesDir returns places.dir, or <data_dir>/places when unset.
func (c *Config) PlacesDir() string {
	if c.Places.Dir != "" {
		return c.Places.Dir
	}
	return filepath.Join(c.DataDir, "places")
}

// HTTPTimeout returns the download timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSecs) * time.Second
}

// Validate checks the settings a command needs. mode is the command name:
// "run", "boundaries" or "count".
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.DataDir == "" {
		errs = append(errs, "data_dir is required")
	}
	if c.Boundary.File == "" {
		errs = append(errs, "boundary.file is required")
	}

	needsHTTP, needsPlaces, needsOutput := false, false, false
	switch mode {
	case "run":
		needsHTTP, needsPlaces, needsOutput = true, true, true
	case "boundaries":
		needsHTTP = true
	case "count":
		needsPlaces = true
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needsHTTP {
		if c.Boundary.URL == "" {
			errs = append(errs, "boundary.url is required")
		}
		if c.HTTP.TimeoutSecs <= 0 {
			errs = append(errs, "http.timeout_secs must be > 0")
		}
	}
	if needsPlaces {
		if c.Places.Category == "" {
			errs = append(errs, "places.category is required")
		}
		if c.Places.CategoryColumn == "" {
			errs = append(errs, "places.category_column is required")
		}
		if c.Places.Workers < 0 {
			errs = append(errs, "places.workers must be >= 0")
		}
	}
	if needsOutput {
		if c.Census.URL == "" {
			errs = append(errs, "census.url is required")
		}
		if _, err := output.FormatFor(c.Output.Path); err != nil {
			errs = append(errs, "output.path must end in .gpkg, .geojson or .json")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COFFEE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data_dir", "~/data/overturemaps")
	v.SetDefault("boundary.url", boundary.DefaultURL)
	v.SetDefault("boundary.country", boundary.DefaultCountry)
	v.SetDefault("boundary.file", boundary.DefaultFileName)
	v.SetDefault("places.dir", "")
	v.SetDefault("places.category", places.DefaultCategory)
	v.SetDefault("places.category_column", places.DefaultCategoryColumn)
	v.SetDefault("places.workers", 0)
	v.SetDefault("places.progress", false)
	v.SetDefault("census.url", census.DefaultURL)
	v.SetDefault("census.population_column", census.DefaultPopulationColumn)
	v.SetDefault("output.path", output.DefaultPath)
	v.SetDefault("http.timeout_secs", 600)
	v.SetDefault("http.user_agent", "coffee-density/1.0")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	var err error
	for _, p := range []*string{&cfg.DataDir, &cfg.Places.Dir, &cfg.Output.Path, &cfg.Boundary.File} {
		if *p, err = expandHome(*p); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", eris.Wrap(err, "config: resolve home directory")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
