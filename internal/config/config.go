// Package config loads daemon options from a TOML file, CAMCORE_*
// environment variables and command-line flags, and watches the file for
// changes.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/smazurov/camcore/internal/logging"
)

// EnvPrefix is prepended to every env tag.
const EnvPrefix = "CAMCORE_"

// LoadConfig loads configuration with proper precedence: CLI args > env vars > config file.
// opts must be a pointer to a flat struct whose fields carry `toml:"section.key"`
// and `env:"KEY"` tags; a string field named Config holds the file path.
// If cmd is provided, flags explicitly set via CLI will not be overwritten.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	// Build set of flags explicitly changed via CLI
	changedFlags := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				changedFlags[f.Name] = true
			}
		})
	}

	var configPath string
	if f := v.FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String {
		configPath = f.String()
	}

	// Load TOML file if it exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			var config map[string]any
			if err := toml.Unmarshal(data, &config); err != nil {
				return fmt.Errorf("failed to parse TOML config: %w", err)
			}

			for i := 0; i < v.NumField(); i++ {
				fieldType := t.Field(i)
				if changedFlags[fieldNameToFlag(fieldType.Name)] {
					continue
				}
				if tomlPath := fieldType.Tag.Get("toml"); tomlPath != "" {
					if value := getNestedValue(config, tomlPath); value != nil {
						setFieldValue(v.Field(i), value)
					}
				}
			}
		}
	}

	// Apply environment variable overrides (skip CLI-set flags)
	for i := 0; i < v.NumField(); i++ {
		fieldType := t.Field(i)
		if changedFlags[fieldNameToFlag(fieldType.Name)] {
			continue
		}
		if envKey := fieldType.Tag.Get("env"); envKey != "" {
			if envValue := os.Getenv(EnvPrefix + envKey); envValue != "" {
				setFieldValueFromString(v.Field(i), envValue)
			}
		}
	}

	return nil
}

// fieldNameToFlag converts a struct field name to a CLI flag name.
// Example: "LoggingLevel" -> "logging-level", "Port" -> "port".
func fieldNameToFlag(fieldName string) string {
	var result []rune
	for i, r := range fieldName {
		if i > 0 && unicode.IsUpper(r) {
			result = append(result, '-')
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// getNestedValue retrieves a value from nested map using dot notation.
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data

	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

// setFieldValue sets a field value using reflection.
func setFieldValue(field reflect.Value, value any) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		if s, ok := value.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int:
		switch i := value.(type) {
		case int64:
			field.SetInt(i)
		case int:
			field.SetInt(int64(i))
		}
	case reflect.Float64:
		switch f := value.(type) {
		case float64:
			field.SetFloat(f)
		case int64:
			field.SetFloat(float64(f))
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			if arr, ok := value.([]any); ok {
				slice := make([]string, len(arr))
				for i, v := range arr {
					if s, strOk := v.(string); strOk {
						slice[i] = s
					}
				}
				field.Set(reflect.ValueOf(slice))
			}
		}
	}
}

// setFieldValueFromString sets a field value from string (for env vars).
func setFieldValueFromString(field reflect.Value, value string) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		if b, err := strconv.ParseBool(value); err == nil {
			field.SetBool(b)
		}
	case reflect.Int:
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			field.SetInt(i)
		}
	case reflect.Float64:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			field.SetFloat(f)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Parse comma-separated values for env vars
			parts := strings.Split(value, ",")
			slice := make([]string, len(parts))
			for i, part := range parts {
				slice[i] = strings.TrimSpace(part)
			}
			field.Set(reflect.ValueOf(slice))
		}
	}
}

// LoadLoggingConfig loads logging configuration from a TOML config file.
// Returns default config if file doesn't exist or can't be parsed.
func LoadLoggingConfig(configPath string) logging.Config {
	cfg, err := ParseLoggingConfig(configPath)
	if err != nil {
		return defaultLoggingConfig()
	}
	return cfg
}

func defaultLoggingConfig() logging.Config {
	return logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}
}

// ParseLoggingConfig reads the [logging] section of a TOML file. Module
// levels may be given in a [logging.modules] table or as extra keys of
// [logging]. A missing file yields the defaults.
func ParseLoggingConfig(configPath string) (logging.Config, error) {
	cfg := defaultLoggingConfig()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var rawConfig struct {
		Logging map[string]any `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &rawConfig); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", configPath, err)
	}

	for key, value := range rawConfig.Logging {
		switch v := value.(type) {
		case string:
			switch key {
			case "level":
				cfg.Level = v
			case "format":
				cfg.Format = v
			default:
				cfg.Modules[key] = v
			}
		case map[string]any:
			if key != "modules" {
				continue
			}
			for module, level := range v {
				if s, ok := level.(string); ok {
					cfg.Modules[module] = s
				}
			}
		}
	}

	if !logging.ValidLevel(cfg.Level) {
		return cfg, fmt.Errorf("invalid log level %q", cfg.Level)
	}
	for module, level := range cfg.Modules {
		if !logging.ValidLevel(level) {
			return cfg, fmt.Errorf("invalid log level %q for module %s", level, module)
		}
	}
	return cfg, nil
}

// WatchLogging starts a watcher that applies the [logging] section of the
// config file to the running loggers whenever the file changes.
func WatchLogging(ctx context.Context, path string, logger *slog.Logger, opts ...WatcherOption[logging.Config]) (*Watcher[logging.Config], error) {
	w := NewWatcher(path, ParseLoggingConfig, logger, opts...)
	w.OnReload(func(cfg logging.Config) {
		logging.SetLevels(cfg)
		logger.Info("Log levels reloaded", "level", cfg.Level, "modules", len(cfg.Modules))
	})
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
