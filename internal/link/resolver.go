package link

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

var varRefRe = regexp.MustCompile(`\$\{(\w+)\}|\$(\w+)`)

// ConfigResolver expands ${VAR} and $VAR references in reference
// identifiers using values gathered from environment files, compose
// files, and application config files. An identifier whose variables
// cannot all be resolved is treated as a non-match by the caller, never
// as an error.
type ConfigResolver struct {
	vars   map[string]string
	logger *slog.Logger
}

// NewConfigResolver creates an empty resolver. Sources are added with
// AddEnvFile/AddConfigFile/AddVars.
func NewConfigResolver(logger *slog.Logger) *ConfigResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigResolver{vars: map[string]string{}, logger: logger}
}

// AddVars merges literal variable values, e.g. from the process
// environment. Existing values are overwritten.
func (r *ConfigResolver) AddVars(vars map[string]string) {
	for k, v := range vars {
		r.vars[k] = v
	}
}

// AddEnvFile loads KEY=VALUE pairs from a dotenv-style file. Blank lines
// and # comments are skipped, surrounding quotes stripped.
func (r *ConfigResolver) AddEnvFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading env file: %w", err)
	}
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key != "" {
			r.vars[key] = value
		}
	}
	r.logger.Debug("env file loaded", "path", path)
	return nil
}

// AddConfigFile loads a structured config source (YAML compose file, JSON
// or TOML app config) and indexes every leaf value under both its full
// dotted key and its final path segment, so ${QUEUE_NAME} finds
// services.worker.environment.QUEUE_NAME.
func (r *ConfigResolver) AddConfigFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file %s: %w", filepath.Base(path), err)
	}

	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if value == "" {
			continue
		}
		r.vars[key] = value
		segments := strings.Split(key, ".")
		leaf := segments[len(segments)-1]
		if _, exists := r.vars[leaf]; !exists {
			r.vars[leaf] = value
		}
	}
	r.logger.Debug("config file loaded", "path", path, "keys", len(v.AllKeys()))
	return nil
}

// Resolve expands every variable reference in s. ok is false when any
// referenced variable is unknown; the partially expanded value is still
// returned for logging.
func (r *ConfigResolver) Resolve(s string) (string, bool) {
	ok := true
	out := varRefRe.ReplaceAllStringFunc(s, func(ref string) string {
		name := strings.TrimPrefix(ref, "$")
		name = strings.TrimPrefix(name, "{")
		name = strings.TrimSuffix(name, "}")
		if value, found := r.lookup(name); found {
			return value
		}
		ok = false
		return ref
	})
	return out, ok
}

func (r *ConfigResolver) lookup(name string) (string, bool) {
	if v, ok := r.vars[name]; ok {
		return v, true
	}
	// Config keys flatten to lowercase in viper.
	if v, ok := r.vars[strings.ToLower(name)]; ok {
		return v, true
	}
	return "", false
}

// HasVariables reports whether s contains any ${VAR} or $VAR reference.
func HasVariables(s string) bool { return varRefRe.MatchString(s) }
