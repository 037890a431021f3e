package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration. It is built once at startup and
// treated as read-only afterwards.
type Config struct {
	// Interpreter runs the backend script (PYTHON_PATH).
	Interpreter string `json:"pythonPath" yaml:"pythonPath"`
	// ScriptDir is the base directory for relative script names (PYTHON_SCRIPT_DIR).
	ScriptDir string `json:"scriptDir" yaml:"scriptDir"`
	// Script is the single backend script every forwarded action goes to.
	Script string `json:"script" yaml:"script"`
	Debug  bool   `json:"debug" yaml:"debug"`

	TimeoutSeconds   int  `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	MaxConcurrent    int  `json:"maxConcurrent" yaml:"maxConcurrent"`
	StrictValidation bool `json:"strictValidation" yaml:"strictValidation"`

	AuditDB      string `json:"auditDb,omitempty" yaml:"auditDb,omitempty"`
	LogFile      string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
	HTTPAddr     string `json:"httpAddr,omitempty" yaml:"httpAddr,omitempty"`
	AuthSecret   string `json:"authSecret,omitempty" yaml:"authSecret,omitempty"`
	OTLPEndpoint string `json:"otlpEndpoint,omitempty" yaml:"otlpEndpoint,omitempty"`
}

// Environment keys. The first three are the names the backend scripts and
// MCP client configs already use.
const (
	EnvInterpreter      = "PYTHON_PATH"
	EnvScriptDir        = "PYTHON_SCRIPT_DIR"
	EnvDebug            = "DEBUG"
	EnvScript           = "MIJIA_SCRIPT"
	EnvTimeoutSeconds   = "MIJIA_TIMEOUT_SECONDS"
	EnvMaxConcurrent    = "MIJIA_MAX_CONCURRENT"
	EnvStrictValidation = "MIJIA_STRICT_VALIDATION"
	EnvAuditDB          = "MIJIA_AUDIT_DB"
	EnvLogFile          = "MIJIA_LOG_FILE"
	EnvHTTPAddr         = "MIJIA_HTTP_ADDR"
	EnvAuthSecret       = "MIJIA_AUTH_SECRET"
	EnvOTLPEndpoint     = "MIJIA_OTLP_ENDPOINT"
)

// Timeout is the per-invocation subprocess ceiling.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load builds the configuration: defaults, then the optional config file at
// path, then the process environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := loadFile(ExpandPath(path), cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.AuditDB = ExpandPath(cfg.AuditDB)
	cfg.LogFile = ExpandPath(cfg.LogFile)
	cfg.ScriptDir = ExpandPath(cfg.ScriptDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// FromEnv is Load without a config file.
func FromEnv() (*Config, error) {
	return Load("")
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	default:
		// JSON with comments and trailing commas.
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []string

	setString(&cfg.Interpreter, EnvInterpreter)
	setString(&cfg.ScriptDir, EnvScriptDir)
	setString(&cfg.Script, EnvScript)
	setString(&cfg.AuditDB, EnvAuditDB)
	setString(&cfg.LogFile, EnvLogFile)
	setString(&cfg.HTTPAddr, EnvHTTPAddr)
	setString(&cfg.AuthSecret, EnvAuthSecret)
	setString(&cfg.OTLPEndpoint, EnvOTLPEndpoint)

	if v, ok := lookup(EnvDebug); ok {
		cfg.Debug = parseFlag(v)
	}
	if v, ok := lookup(EnvStrictValidation); ok {
		cfg.StrictValidation = parseFlag(v)
	}
	if v, ok := lookup(EnvTimeoutSeconds); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not an integer", EnvTimeoutSeconds, v))
		} else {
			cfg.TimeoutSeconds = n
		}
	}
	if v, ok := lookup(EnvMaxConcurrent); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not an integer", EnvMaxConcurrent, v))
		} else {
			cfg.MaxConcurrent = n
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("environment errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// lookup treats set-but-empty variables as unset.
func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

// parseFlag accepts "true" and "1"; everything else is false.
func parseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1":
		return true
	}
	return false
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if strings.TrimSpace(cfg.Interpreter) == "" {
		errs = append(errs, "pythonPath must not be empty")
	}
	if strings.TrimSpace(cfg.Script) == "" {
		errs = append(errs, "script must not be empty")
	}
	if cfg.TimeoutSeconds < 1 || cfg.TimeoutSeconds > 600 {
		errs = append(errs, "timeoutSeconds must be between 1 and 600")
	}
	if cfg.MaxConcurrent < 1 || cfg.MaxConcurrent > 256 {
		errs = append(errs, "maxConcurrent must be between 1 and 256")
	}
	if cfg.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.HTTPAddr); err != nil {
			errs = append(errs, fmt.Sprintf("httpAddr %q: %v", cfg.HTTPAddr, err))
		}
	}
	if cfg.AuthSecret != "" && len(cfg.AuthSecret) < 16 {
		errs = append(errs, "authSecret must be at least 16 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
