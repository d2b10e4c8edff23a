package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// sections are the top-level keys environment variables may target.
var sections = map[string]bool{
	"server":    true,
	"github":    true,
	"openai":    true,
	"allowed":   true,
	"pipeline":  true,
	"notify":    true,
	"publisher": true,
	"nats":      true,
	"log":       true,
	"otel":      true,
}

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (GITHUB_TOKEN, OPENAI_API_KEY, ALLOWED_SECRETS, ...)
//  2. YAML config file (~/.config/deployd/config.yaml)
//  3. Defaults
//
// The file is optional. When present it must live under ~/.config/deployd/
// or /etc/deployd/, have 0600 or 0400 permissions and be at most 1MB.
//
// Environment variables split on the first underscore into section and field:
//
//	GITHUB_TOKEN        -> github.token
//	OPENAI_API_KEY      -> openai.api_key
//	ALLOWED_SECRETS     -> allowed.secrets
//	PIPELINE_MAX_CONCURRENT -> pipeline.max_concurrent
//
// Variables whose section is unknown are ignored.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "deployd", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps SECTION_FIELD_NAME to section.field_name, or "" to skip.
func envKey(s string) string {
	parts := strings.SplitN(strings.ToLower(s), "_", 2)
	if len(parts) != 2 || !sections[parts[0]] {
		return ""
	}
	return parts[0] + "." + parts[1]
}

// envValue skips empty variables so that VAR= does not blank a file value.
func envValue(key, value string) (string, interface{}) {
	if value == "" {
		return "", nil
	}
	return envKey(key), value
}

// readConfigFile opens the file once and validates through the descriptor
// to avoid a stat/open race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigPath checks the path is inside an allowed directory.
// Runs even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "deployd"),
		"/etc/deployd",
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/deployd/ or /etc/deployd/")
}

// validateConfigFileProperties checks permissions and size of an opened file.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
