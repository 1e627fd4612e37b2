package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/WebviewBridge/internal/logger"
)

// Timeout keys recognised in the config document.
const (
	TimeoutKeyNavigation       = "navigation"
	TimeoutKeyExtraction       = "extraction"
	TimeoutKeyDetailExtraction = "detailExtraction"
)

// DefaultHost is the host the browser host listens on unless configured.
const DefaultHost = "localhost"

// Validation failures. Each ValidationError wraps exactly one of these.
var (
	ErrRootNotMapping   = errors.New("document root must be a mapping")
	ErrMissingPort      = errors.New("electronServerPort is required")
	ErrInvalidPort      = errors.New("electronServerPort must be a positive integer")
	ErrMissingSessions  = errors.New("webviews must be a list")
	ErrEmptySessions    = errors.New("webviews must not be empty")
	ErrInvalidSession   = errors.New("every webview needs a non-empty string id")
	ErrDuplicateSession = errors.New("webview ids must be unique")
	ErrInvalidHost      = errors.New("host must be a non-empty string")
)

// ConfigErrorKind says which stage of loading failed.
type ConfigErrorKind int

const (
	// KindNotFound means the file could not be read.
	KindNotFound ConfigErrorKind = iota
	// KindParse means the document is not valid JSON or YAML.
	KindParse
	// KindValidation means the document parsed but broke a rule.
	KindValidation
)

// String returns the string representation of the kind.
func (k ConfigErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindParse:
		return "parse error"
	case KindValidation:
		return "validation error"
	default:
		return "unknown"
	}
}

// ConfigError is returned by LoadConfig. No partial config accompanies it.
type ConfigError struct {
	Kind ConfigErrorKind
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s: %v", e.Path, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is matches another ConfigError by kind.
func (e *ConfigError) Is(target error) bool {
	t, ok := target.(*ConfigError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Session is one browser context owned by the browser host.
type Session struct {
	ID string `json:"id" yaml:"id"`
}

// Config is the validated bridge configuration.
// It is built once at startup and never mutated afterwards.
type Config struct {
	ServerPort int            `json:"electronServerPort" yaml:"electronServerPort"`
	Host       string         `json:"host,omitempty" yaml:"host,omitempty"`
	Sessions   []Session      `json:"webviews" yaml:"webviews"`
	Timeouts   map[string]int `json:"timeouts,omitempty" yaml:"timeouts,omitempty"`

	// Warnings collects entries that were dropped while loading.
	Warnings []string `json:"-" yaml:"-"`
}

// DefaultSession returns the first configured session.
func (c *Config) DefaultSession() Session {
	return c.Sessions[0]
}

// SessionIDs returns the configured session ids in order.
func (c *Config) SessionIDs() []string {
	ids := make([]string, len(c.Sessions))
	for i, s := range c.Sessions {
		ids[i] = s.ID
	}
	return ids
}

// HasSession reports whether id is configured.
func (c *Config) HasSession(id string) bool {
	for _, s := range c.Sessions {
		if s.ID == id {
			return true
		}
	}
	return false
}

// BaseURL returns the browser host's root URL.
func (c *Config) BaseURL() string {
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.ServerPort))
}

// LoadConfig reads and validates the config at path.
// Files ending in .yaml or .yml are parsed as YAML, everything else as JSON.
func LoadConfig(path string, log *logger.Logger) (*Config, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("config")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Kind: KindNotFound, Path: path, Err: err}
	}

	doc, err := decodeDocument(path, data)
	if err != nil {
		return nil, &ConfigError{Kind: KindParse, Path: path, Err: err}
	}

	cfg, err := parseConfig(doc)
	if err != nil {
		return nil, &ConfigError{Kind: KindValidation, Path: path, Err: err}
	}

	for _, w := range cfg.Warnings {
		log.Warn(w)
	}
	log.WithFields(map[string]interface{}{
		"port":     cfg.ServerPort,
		"sessions": cfg.SessionIDs(),
		"timeouts": cfg.Timeouts,
	}).Info("Configuration loaded")

	return cfg, nil
}

func decodeDocument(path string, data []byte) (interface{}, error) {
	var doc interface{}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		return doc, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if err := dec.Decode(new(interface{})); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return doc, nil
}

func parseConfig(doc interface{}) (*Config, error) {
	root, ok := asMapping(doc)
	if !ok {
		return nil, ErrRootNotMapping
	}

	cfg := &Config{}

	rawPort, ok := root["electronServerPort"]
	if !ok {
		return nil, ErrMissingPort
	}
	port, ok := positiveInt(rawPort)
	if !ok {
		return nil, fmt.Errorf("%w, got %v", ErrInvalidPort, rawPort)
	}
	cfg.ServerPort = port

	if rawHost, ok := root["host"]; ok {
		host, isString := rawHost.(string)
		if !isString || host == "" {
			return nil, ErrInvalidHost
		}
		cfg.Host = host
	}

	rawSessions, ok := root["webviews"]
	if !ok {
		return nil, fmt.Errorf("%w: key is missing", ErrMissingSessions)
	}
	list, ok := rawSessions.([]interface{})
	if !ok {
		return nil, ErrMissingSessions
	}
	if len(list) == 0 {
		return nil, ErrEmptySessions
	}

	seen := make(map[string]bool, len(list))
	for i, item := range list {
		entry, ok := asMapping(item)
		if !ok {
			return nil, fmt.Errorf("%w: entry %d is not a mapping", ErrInvalidSession, i)
		}
		id, ok := entry["id"].(string)
		if !ok || id == "" {
			return nil, fmt.Errorf("%w: entry %d", ErrInvalidSession, i)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSession, id)
		}
		seen[id] = true
		cfg.Sessions = append(cfg.Sessions, Session{ID: id})
	}

	cfg.Timeouts = map[string]int{}
	if rawTimeouts, ok := root["timeouts"]; ok {
		timeouts, isMapping := asMapping(rawTimeouts)
		if !isMapping {
			cfg.Warnings = append(cfg.Warnings, "'timeouts' is not a mapping, ignoring")
		} else {
			for key, value := range timeouts {
				ms, valid := positiveInt(value)
				if !valid {
					cfg.Warnings = append(cfg.Warnings,
						fmt.Sprintf("invalid timeout value for %q (must be a positive integer), dropping", key))
					continue
				}
				cfg.Timeouts[key] = ms
			}
		}
	}

	return cfg, nil
}

// asMapping accepts both JSON objects and YAML mappings with string keys.
func asMapping(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// positiveInt accepts integers only; bools, floats and numeric strings are rejected.
func positiveInt(v interface{}) (int, bool) {
	var n int64
	switch x := v.(type) {
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, false
		}
		n = i
	case int:
		n = int64(x)
	case int64:
		n = x
	case uint64:
		if x > uint64(int(^uint(0)>>1)) {
			return 0, false
		}
		n = int64(x)
	default:
		return 0, false
	}
	if n <= 0 || n > int64(int(^uint(0)>>1)) {
		return 0, false
	}
	return int(n), true
}
