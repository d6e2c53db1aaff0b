package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/regygeorge/nx-workflow/internal/engine"
	"github.com/regygeorge/nx-workflow/internal/scheduler"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

const envPrefix = "NXFLOW_"

// memoryDB selects the in-memory store instead of a libSQL file.
const memoryDB = ":memory:"

// Config holds all nxflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr         string               `json:"listen_addr" mapstructure:"listen_addr"`
	DBPath             string               `json:"db_path" mapstructure:"db_path"`
	LogLevel           string               `json:"log_level" mapstructure:"log_level"`
	LogFormat          string               `json:"log_format" mapstructure:"log_format"`
	ExpressionLanguage string               `json:"expression_language" mapstructure:"expression_language"`
	MaxPasses          int                  `json:"max_passes" mapstructure:"max_passes"`
	HTTPTimeout        time.Duration        `json:"http_timeout" mapstructure:"http_timeout"`
	DefinitionsDir     string               `json:"definitions_dir" mapstructure:"definitions_dir"`
	Metrics            bool                 `json:"metrics" mapstructure:"metrics"`
	TraceOutput        string               `json:"trace_output" mapstructure:"trace_output"`
	ScheduleInterval   time.Duration        `json:"schedule_interval" mapstructure:"schedule_interval"`
	Schedules          []scheduler.Schedule `json:"schedules" mapstructure:"schedules"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:         ":4200",
		DBPath:             filepath.Join(nxflowDir(), "nxflow.db"),
		LogLevel:           "info",
		LogFormat:          "text",
		ExpressionLanguage: schema.LanguageExpr,
		MaxPasses:          engine.DefaultMaxPasses,
		HTTPTimeout:        30 * time.Second,
		Metrics:            true,
		ScheduleInterval:   30 * time.Second,
	}
}

func nxflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nxflow"
	}
	return filepath.Join(home, ".nxflow")
}

func settingsPath() string {
	return filepath.Join(nxflowDir(), "settings.json")
}

// loadConfig layers defaults, the settings file and NXFLOW_* env vars. An
// explicit path must exist; the default settings file is optional.
func loadConfig(path string, environ []string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = settingsPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := applySettings(&cfg, data); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return Config{}, fmt.Errorf("config: %w", err)
	}

	if err := applyEnv(&cfg, environ); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applySettings(cfg *Config, data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return decodeInto(cfg, raw, true)
}

// applyEnv maps NXFLOW_LISTEN_ADDR to listen_addr and so on. Schedules can
// only come from the settings file.
func applyEnv(cfg *Config, environ []string) error {
	raw := map[string]any{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, envPrefix))
		if name == "schedules" {
			continue
		}
		raw[name] = value
	}
	if len(raw) == 0 {
		return nil
	}
	if err := decodeInto(cfg, raw, false); err != nil {
		return fmt.Errorf("config env: %w", err)
	}
	return nil
}

func decodeInto(cfg *Config, raw map[string]any, strict bool) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      strict,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

func (c Config) validate() error {
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("config: log_format must be text or json, got %q", c.LogFormat)
	}
	switch c.ExpressionLanguage {
	case schema.LanguageExpr, schema.LanguageCEL:
	default:
		return fmt.Errorf("config: expression_language must be %s or %s, got %q",
			schema.LanguageExpr, schema.LanguageCEL, c.ExpressionLanguage)
	}
	if c.MaxPasses <= 0 {
		return fmt.Errorf("config: max_passes must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("config: http_timeout must be positive")
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path is required")
	}
	return nil
}
