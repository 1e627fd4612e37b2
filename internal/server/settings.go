package server

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// DefaultTargetURL is the catalog listing used when a caller gives no base_url.
const DefaultTargetURL = "https://www.anticexlibris.ro/carti-de-literatura-contemporana-in-engleza?filter=-2/l/1"

// Settings configures the route layer. Every field can be set from a
// BRIDGE_ prefixed environment variable.
type Settings struct {
	Listen           string        `envconfig:"LISTEN" default:"localhost:5000"`
	DefaultTargetURL string        `envconfig:"DEFAULT_TARGET_URL" default:"https://www.anticexlibris.ro/carti-de-literatura-contemporana-in-engleza?filter=-2/l/1"`
	ListDelay        time.Duration `envconfig:"LIST_DELAY" default:"2s"`
	DetailDelay      time.Duration `envconfig:"DETAIL_DELAY" default:"1s"`
	RateLimitRPS     float64       `envconfig:"RATE_LIMIT_RPS" default:"2"`
	RateLimitBurst   int           `envconfig:"RATE_LIMIT_BURST" default:"5"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// DefaultSettings returns the settings used when the environment is empty.
func DefaultSettings() Settings {
	return Settings{
		Listen:           "localhost:5000",
		DefaultTargetURL: DefaultTargetURL,
		ListDelay:        2 * time.Second,
		DetailDelay:      time.Second,
		RateLimitRPS:     2,
		RateLimitBurst:   5,
		ShutdownTimeout:  30 * time.Second,
	}
}

// LoadSettings reads settings from the environment.
func LoadSettings() (Settings, error) {
	s := DefaultSettings()
	if err := envconfig.Process("bridge", &s); err != nil {
		return Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the settings.
func (s Settings) Validate() error {
	if s.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if s.ListDelay < 0 || s.DetailDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if s.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit burst must not be negative")
	}
	u, err := url.Parse(s.DefaultTargetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("default target URL must be absolute: %q", s.DefaultTargetURL)
	}
	return nil
}
