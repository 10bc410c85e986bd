package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	// EnvConfigPath overrides the config file search path
	EnvConfigPath = "PERFMOND_CONFIG"
	envPrefix     = "PERFMOND"
)

// Config is the full monitoring configuration surface. It is replaceable at
// runtime through Monitor.Configure and round-trips through TOML for the
// export/import operations.
type Config struct {
	// Intervals and capacity bounds
	CollectionInterval   int    `mapstructure:"collection_interval" toml:"collection_interval"`
	RetentionDays        int    `mapstructure:"retention_days" toml:"retention_days"`
	MaxMetricsPerBatch   int    `mapstructure:"max_metrics_per_batch" toml:"max_metrics_per_batch"`
	MaxMetricsHistory    int    `mapstructure:"max_metrics_history" toml:"max_metrics_history"`
	StoragePath          string `mapstructure:"storage_path" toml:"storage_path"`
	SourceErrorThreshold int    `mapstructure:"source_error_threshold" toml:"source_error_threshold"`

	// Alerting thresholds
	CPUThresholdPercent     float64 `mapstructure:"cpu_threshold_percent" toml:"cpu_threshold_percent"`
	MemoryThresholdMB       float64 `mapstructure:"memory_threshold_mb" toml:"memory_threshold_mb"`
	ResponseTimeThresholdMS float64 `mapstructure:"response_time_threshold_ms" toml:"response_time_threshold_ms"`
	ErrorRateThreshold      float64 `mapstructure:"error_rate_threshold" toml:"error_rate_threshold"`

	// Analysis knobs
	TrendAnalysisWindowHours    int     `mapstructure:"trend_analysis_window" toml:"trend_analysis_window"`
	AnomalyDetectionSensitivity float64 `mapstructure:"anomaly_detection_sensitivity" toml:"anomaly_detection_sensitivity"`
	PredictionHorizonHours      int     `mapstructure:"prediction_horizon" toml:"prediction_horizon"`

	LogLevel string `mapstructure:"log_level" toml:"log_level"`
}

// Default returns the configuration used when no file or flags override it
func Default() Config {
	return Config{
		CollectionInterval:          30,
		RetentionDays:               30,
		MaxMetricsPerBatch:          1000,
		MaxMetricsHistory:           10000,
		StoragePath:                 filepath.Join(".", "performance_data"),
		SourceErrorThreshold:        5,
		CPUThresholdPercent:         80,
		MemoryThresholdMB:           500,
		ResponseTimeThresholdMS:     2000,
		ErrorRateThreshold:          0.05,
		TrendAnalysisWindowHours:    24,
		AnomalyDetectionSensitivity: 2.0,
		PredictionHorizonHours:      4,
		LogLevel:                    DefaultLogLevel,
	}
}

// DBPath returns the SQLite file location under the storage path
func (c Config) DBPath() string {
	return filepath.Join(c.StoragePath, "performance_metrics.db")
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.CollectionInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.CollectionInterval)
	}
	if c.RetentionDays <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "retention_days must be positive")
	}
	if c.MaxMetricsPerBatch <= 0 || c.MaxMetricsHistory <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "capacity bounds must be positive")
	}
	if c.StoragePath == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "storage_path must not be empty")
	}
	if c.ErrorRateThreshold < 0 || c.ErrorRateThreshold > 1 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "error_rate_threshold must be within [0, 1]")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("collection_interval", def.CollectionInterval)
	v.SetDefault("retention_days", def.RetentionDays)
	v.SetDefault("max_metrics_per_batch", def.MaxMetricsPerBatch)
	v.SetDefault("max_metrics_history", def.MaxMetricsHistory)
	v.SetDefault("storage_path", def.StoragePath)
	v.SetDefault("source_error_threshold", def.SourceErrorThreshold)
	v.SetDefault("cpu_threshold_percent", def.CPUThresholdPercent)
	v.SetDefault("memory_threshold_mb", def.MemoryThresholdMB)
	v.SetDefault("response_time_threshold_ms", def.ResponseTimeThresholdMS)
	v.SetDefault("error_rate_threshold", def.ErrorRateThreshold)
	v.SetDefault("trend_analysis_window", def.TrendAnalysisWindowHours)
	v.SetDefault("anomaly_detection_sensitivity", def.AnomalyDetectionSensitivity)
	v.SetDefault("prediction_horizon", def.PredictionHorizonHours)
	v.SetDefault("log_level", def.LogLevel)
}

// Load reads configuration from the TOML file (explicit path via the
// PERFMOND_CONFIG env var, otherwise the standard search paths), environment
// variables, and the given flag set, in ascending priority.
func Load(flags *pflag.FlagSet) (Config, error) {
	errFactory := errors.New()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	explicit := os.Getenv(EnvConfigPath)
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("perfmond")
		v.AddConfigPath("/etc/perfmond")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// Running without a config file is fine; a named file that is
		// missing or malformed is not.
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if explicit != "" || !notFound {
			return Config{}, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return Config{}, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// bindFlags maps the dashed CLI flag names onto their config keys. Only
// flags the caller actually defined are bound.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	names := map[string]string{
		"collection_interval": "interval",
		"retention_days":      "retention-days",
		"storage_path":        "storage-path",
		"log_level":           "log-level",
	}
	for key, name := range names {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile reads a configuration from one explicit TOML file. Used by the
// monitor's import operation.
func LoadFile(path string) (Config, error) {
	errFactory := errors.New()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errFactory.Wrap(errors.ErrReadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the configuration to a TOML file. Used by the monitor's
// export operation.
func Save(cfg Config, path string) error {
	errFactory := errors.New()

	v := viper.New()
	v.Set("collection_interval", cfg.CollectionInterval)
	v.Set("retention_days", cfg.RetentionDays)
	v.Set("max_metrics_per_batch", cfg.MaxMetricsPerBatch)
	v.Set("max_metrics_history", cfg.MaxMetricsHistory)
	v.Set("storage_path", cfg.StoragePath)
	v.Set("source_error_threshold", cfg.SourceErrorThreshold)
	v.Set("cpu_threshold_percent", cfg.CPUThresholdPercent)
	v.Set("memory_threshold_mb", cfg.MemoryThresholdMB)
	v.Set("response_time_threshold_ms", cfg.ResponseTimeThresholdMS)
	v.Set("error_rate_threshold", cfg.ErrorRateThreshold)
	v.Set("trend_analysis_window", cfg.TrendAnalysisWindowHours)
	v.Set("anomaly_detection_sensitivity", cfg.AnomalyDetectionSensitivity)
	v.Set("prediction_horizon", cfg.PredictionHorizonHours)
	v.Set("log_level", cfg.LogLevel)

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errFactory.Wrap(errors.ErrWriteConfig, err)
		}
	}
	if err := v.WriteConfigAs(path); err != nil {
		return errFactory.Wrap(errors.ErrWriteConfig, err)
	}
	return nil
}
