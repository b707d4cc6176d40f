// Package config loads server and CLI settings: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sahithikokkula/selest/pkg/overrides"
	"github.com/sahithikokkula/selest/pkg/sketches"
)

type Config struct {
	DBPath    string `yaml:"db_path"`
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	CacheSize int    `yaml:"cache_size"`

	Estimator EstimatorConfig `yaml:"estimator"`
	Sketch    SketchConfig    `yaml:"sketch"`
}

type EstimatorConfig struct {
	AutoStatistics         bool    `yaml:"auto_statistics"`
	HardcodedSelectivities bool    `yaml:"hardcoded_selectivities"`
	OverridesPath          string  `yaml:"overrides_path"`
	MatchMode              string  `yaml:"match_mode"`
	RowsInTable            float64 `yaml:"rows_in_table"`
}

type SketchConfig struct {
	Epsilon float64 `yaml:"epsilon"`
	Gamma   float64 `yaml:"gamma"`
	// Seed fixes the hash coefficients; nil draws them from system entropy.
	Seed    *int64  `yaml:"seed"`
	HLLBits uint8   `yaml:"hll_bits"`
}

func Default() Config {
	return Config{
		DBPath:    "selest.sqlite",
		Port:      "8080",
		LogLevel:  "info",
		CacheSize: 1024,
		Estimator: EstimatorConfig{
			AutoStatistics: true,
			MatchMode:      overrides.MatchSubstring.String(),
			RowsInTable:    1000,
		},
		Sketch: SketchConfig{
			Epsilon: 0.05,
			Gamma:   0.01,
			HLLBits: 12,
		},
	}
}

// Load returns the defaults overlaid with the YAML file named by
// SELEST_CONFIG (when set) and the environment.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("SELEST_CONFIG"); path != "" {
		if err := cfg.ReadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ReadFile overlays the YAML file at path; keys it omits keep their value.
func (c *Config) ReadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading config %s", path)
	}
	return errors.Wrapf(yaml.Unmarshal(data, c), "parsing config %s", path)
}

// ApplyEnv overlays variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs error
	parse := func(key string, set func(string) error) {
		if v, ok := lookup(key); ok && v != "" {
			if err := set(v); err != nil {
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "%s", key))
			}
		}
	}

	str("SELEST_DB_PATH", &c.DBPath)
	str("PORT", &c.Port)
	str("SELEST_LOG_LEVEL", &c.LogLevel)
	str("SELEST_OVERRIDES", &c.Estimator.OverridesPath)
	str("SELEST_MATCH_MODE", &c.Estimator.MatchMode)
	parse("SELEST_CACHE_SIZE", func(v string) (err error) {
		c.CacheSize, err = strconv.Atoi(v)
		return err
	})
	parse("SELEST_AUTO_STATISTICS", func(v string) (err error) {
		c.Estimator.AutoStatistics, err = strconv.ParseBool(v)
		return err
	})
	parse("SELEST_HARDCODED_SELECTIVITIES", func(v string) (err error) {
		c.Estimator.HardcodedSelectivities, err = strconv.ParseBool(v)
		return err
	})
	parse("SELEST_ROWS_IN_TABLE", func(v string) (err error) {
		c.Estimator.RowsInTable, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("SELEST_EPSILON", func(v string) (err error) {
		c.Sketch.Epsilon, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("SELEST_GAMMA", func(v string) (err error) {
		c.Sketch.Gamma, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("SELEST_SKETCH_SEED", func(v string) error {
		if strings.EqualFold(v, "random") {
			c.Sketch.Seed = nil
			return nil
		}
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.Sketch.Seed = &seed
		return nil
	})
	return errs
}

func (c Config) Validate() error {
	var errs error
	if c.DBPath == "" {
		errs = errors.CombineErrors(errs, errors.New("db_path is required"))
	}
	if _, _, err := sketches.Dimensions(c.Sketch.Epsilon, c.Sketch.Gamma); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if _, err := overrides.ParseMatchMode(c.Estimator.MatchMode); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "log_level"))
	}
	if c.Estimator.RowsInTable < 0 {
		errs = errors.CombineErrors(errs, errors.Newf("rows_in_table must not be negative, got %v", c.Estimator.RowsInTable))
	}
	if c.CacheSize < 0 {
		errs = errors.CombineErrors(errs, errors.Newf("cache_size must not be negative, got %d", c.CacheSize))
	}
	if c.Sketch.HLLBits != 0 && (c.Sketch.HLLBits < 4 || c.Sketch.HLLBits > 16) {
		errs = errors.CombineErrors(errs, errors.Newf("hll_bits must be in [4, 16], got %d", c.Sketch.HLLBits))
	}
	return errs
}

// Seeding converts the configured seed into a sketch seeding option.
func (c Config) Seeding() sketches.Seeding {
	if c.Sketch.Seed != nil {
		return sketches.FixedSeed(*c.Sketch.Seed)
	}
	return sketches.RandomSeed()
}

func (c Config) MatchMode() overrides.MatchMode {
	m, _ := overrides.ParseMatchMode(c.Estimator.MatchMode)
	return m
}

// Logger builds a production logger at the configured level.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
