package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cbc-screen/internal/common"
	"cbc-screen/internal/ml"
	"cbc-screen/internal/panel"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	Port         int
	ModelPath    string
	Labels       map[int]string
	Profile      Profile
	DataPath     string
	CacheSize    int
	HistorySize  int
	LogLevel     string
	LogFormat    string
	LogFile      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Profile is the per-deployment presentation of the screening form.
type Profile struct {
	Name      string             `yaml:"name"`
	Title     string             `yaml:"title"`
	Subtitle  string             `yaml:"subtitle"`
	Icon      string             `yaml:"icon"`
	Language  string             `yaml:"language"`
	Layout    string             `yaml:"layout"`
	ShowChart bool               `yaml:"showChart"`
	Defaults  map[string]float64 `yaml:"defaults"`
}

type ConfigFile struct {
	Server struct {
		Port         int    `yaml:"port"`
		ReadTimeout  string `yaml:"readTimeout"`
		WriteTimeout string `yaml:"writeTimeout"`
	} `yaml:"server"`

	Model struct {
		Path      string         `yaml:"path"`
		Labels    map[int]string `yaml:"labels"`
		CacheSize *int           `yaml:"cacheSize"`
	} `yaml:"model"`

	Profile Profile `yaml:"profile"`

	Storage struct {
		DataPath    string `yaml:"dataPath"`
		HistorySize int    `yaml:"historySize"`
	} `yaml:"storage"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"logging"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	readTimeout, err := parseDurationOr(config.Server.ReadTimeout, common.DefaultReadTimeout)
	if err != nil {
		return Settings{}, fmt.Errorf("server.readTimeout: %w", err)
	}
	writeTimeout, err := parseDurationOr(config.Server.WriteTimeout, common.DefaultWriteTimeout)
	if err != nil {
		return Settings{}, fmt.Errorf("server.writeTimeout: %w", err)
	}

	labels := config.Model.Labels
	if env := os.Getenv(common.EnvClassLabels); env != "" || len(labels) == 0 {
		labels, err = ml.ParseLabelSpec(getEnvOrDefault(common.EnvClassLabels, common.DefaultClassLabels))
		if err != nil {
			return Settings{}, err
		}
	}

	cacheSize := common.DefaultCacheSize
	if config.Model.CacheSize != nil {
		cacheSize = *config.Model.CacheSize
	}

	p := config.Profile
	profile := Profile{
		Name:      p.Name,
		Title:     getEnvOrDefault(common.EnvTitle, orDefault(p.Title, common.DefaultTitle)),
		Subtitle:  getEnvOrDefault(common.EnvSubtitle, orDefault(p.Subtitle, common.DefaultSubtitle)),
		Icon:      getEnvOrDefault(common.EnvIcon, orDefault(p.Icon, common.DefaultIcon)),
		Language:  getEnvOrDefault(common.EnvLanguage, orDefault(p.Language, common.DefaultLanguage)),
		Layout:    getEnvOrDefault(common.EnvLayout, orDefault(p.Layout, common.DefaultLayout)),
		ShowChart: getBoolFromEnvOrConfig(common.EnvShowChart, p.ShowChart),
		Defaults:  p.Defaults,
	}

	settings := Settings{
		Port:         getIntFromEnvOrConfig(common.EnvPort, config.Server.Port, common.DefaultPort),
		ModelPath:    getEnvOrDefault(common.EnvModelPath, orDefault(config.Model.Path, common.DefaultModelPath)),
		Labels:       labels,
		Profile:      profile,
		DataPath:     getEnvOrDefault(common.EnvDataPath, config.Storage.DataPath),
		CacheSize:    getIntOrDefault(common.EnvCacheSize, cacheSize),
		HistorySize:  getIntFromEnvOrConfig(common.EnvHistorySize, config.Storage.HistorySize, common.DefaultHistorySize),
		LogLevel:     getEnvOrDefault(common.EnvLogLevel, orDefault(config.Logging.Level, common.DefaultLogLevel)),
		LogFormat:    getEnvOrDefault(common.EnvLogFormat, orDefault(config.Logging.Format, common.DefaultLogFormat)),
		LogFile:      getEnvOrDefault(common.EnvLogFile, config.Logging.File),
		ReadTimeout:  getDurationOrDefault(common.EnvReadTimeout, readTimeout),
		WriteTimeout: getDurationOrDefault(common.EnvWriteTimeout, writeTimeout),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	labels, err := ml.ParseLabelSpec(getEnvOrDefault(common.EnvClassLabels, common.DefaultClassLabels))
	if err != nil {
		return Settings{}, err
	}

	readTimeout, _ := time.ParseDuration(common.DefaultReadTimeout)
	writeTimeout, _ := time.ParseDuration(common.DefaultWriteTimeout)

	settings := Settings{
		Port:      getIntOrDefault(common.EnvPort, common.DefaultPort),
		ModelPath: getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		Labels:    labels,
		Profile: Profile{
			Title:     getEnvOrDefault(common.EnvTitle, common.DefaultTitle),
			Subtitle:  getEnvOrDefault(common.EnvSubtitle, common.DefaultSubtitle),
			Icon:      getEnvOrDefault(common.EnvIcon, common.DefaultIcon),
			Language:  getEnvOrDefault(common.EnvLanguage, common.DefaultLanguage),
			Layout:    getEnvOrDefault(common.EnvLayout, common.DefaultLayout),
			ShowChart: getBoolOrDefault(common.EnvShowChart, false),
		},
		DataPath:     os.Getenv(common.EnvDataPath), // optional
		CacheSize:    getIntOrDefault(common.EnvCacheSize, common.DefaultCacheSize),
		HistorySize:  getIntOrDefault(common.EnvHistorySize, common.DefaultHistorySize),
		LogLevel:     getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogFormat:    getEnvOrDefault(common.EnvLogFormat, common.DefaultLogFormat),
		LogFile:      os.Getenv(common.EnvLogFile),
		ReadTimeout:  getDurationOrDefault(common.EnvReadTimeout, readTimeout),
		WriteTimeout: getDurationOrDefault(common.EnvWriteTimeout, writeTimeout),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// LabelTable builds the class label table of the deployment.
func (s *Settings) LabelTable() (*ml.LabelTable, error) {
	return ml.NewLabelTable(s.Labels)
}

// DefaultVector is the starting panel of the form, with profile overrides applied.
func (s *Settings) DefaultVector() (panel.Vector, error) {
	return panel.DefaultsWith(s.Profile.Defaults)
}

// HistoryEnabled reports whether screenings are persisted.
func (s *Settings) HistoryEnabled() bool {
	return s.DataPath != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func orDefault(v, defaultValue string) string {
	if v != "" {
		return v
	}
	return defaultValue
}

func parseDurationOr(v, defaultValue string) (time.Duration, error) {
	if v == "" {
		v = defaultValue
	}
	return time.ParseDuration(v)
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	// Validate model
	if strings.TrimSpace(settings.ModelPath) == "" {
		return fmt.Errorf("model path cannot be empty")
	}
	if _, err := settings.LabelTable(); err != nil {
		return fmt.Errorf("invalid class labels: %w", err)
	}

	// Validate server
	if settings.Port < common.MinPort || settings.Port > common.MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.Port)
	}
	if settings.ReadTimeout < time.Second || settings.ReadTimeout > 5*time.Minute {
		return fmt.Errorf("read timeout must be between 1s and 5m, got %v", settings.ReadTimeout)
	}
	if settings.WriteTimeout < time.Second || settings.WriteTimeout > 5*time.Minute {
		return fmt.Errorf("write timeout must be between 1s and 5m, got %v", settings.WriteTimeout)
	}

	// Validate sizes
	if settings.CacheSize < 0 || settings.CacheSize > common.MaxCacheSize {
		return fmt.Errorf("cache size must be between 0 and %d, got %d", common.MaxCacheSize, settings.CacheSize)
	}
	if settings.HistorySize <= 0 || settings.HistorySize > common.MaxHistorySize {
		return fmt.Errorf("history size must be between 1 and %d, got %d", common.MaxHistorySize, settings.HistorySize)
	}

	// Validate logging
	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}
	switch settings.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", settings.LogFormat)
	}

	// Validate profile
	switch settings.Profile.Language {
	case common.LanguageEnglish, common.LanguageChinese, common.LanguageAuto:
	default:
		return fmt.Errorf("profile language must be en, zh or auto, got %q", settings.Profile.Language)
	}
	switch settings.Profile.Layout {
	case common.LayoutColumns, common.LayoutSidebar:
	default:
		return fmt.Errorf("profile layout must be columns or sidebar, got %q", settings.Profile.Layout)
	}
	if strings.TrimSpace(settings.Profile.Title) == "" {
		return fmt.Errorf("profile title cannot be empty")
	}
	if _, err := settings.DefaultVector(); err != nil {
		return fmt.Errorf("profile defaults: %w", err)
	}

	return nil
}
