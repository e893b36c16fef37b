package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type config struct {
	Port           string   `yaml:"port"`
	APIURL         string   `yaml:"apiURL"`
	RequestTimeout duration `yaml:"requestTimeout"`
	IdleTimeout    duration `yaml:"idleTimeout"`
	Markdown       bool     `yaml:"markdown"`
	LogLevel       string   `yaml:"logLevel"`
}

// duration lets YAML files use Go duration strings such as "45s".
type duration time.Duration

const (
	defaultPort           = "8080"
	defaultAPIURL         = "http://localhost:8000"
	defaultRequestTimeout = 60 * time.Second
	defaultIdleTimeout    = 30 * time.Minute

	apiURLEnv = "SHOPASSIST_API_URL"
	portEnv   = "SHOPASSIST_PORT"
)

func defaultConfig() config {
	return config{
		Port:           defaultPort,
		APIURL:         defaultAPIURL,
		RequestTimeout: duration(defaultRequestTimeout),
		IdleTimeout:    duration(defaultIdleTimeout),
		LogLevel:       "info",
	}
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

// loadConfig reads the YAML file at path over the defaults. A missing file is not an error; the UI runs
// on defaults and environment variables alone.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		// An empty file decodes to io.EOF, which leaves the defaults in place
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides the config with the environment variables that are set.
func (c *config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(apiURLEnv)); v != "" {
		c.APIURL = v
	}
	if v := strings.TrimSpace(getenv(portEnv)); v != "" {
		c.Port = v
	}
}

func (c config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("invalid api url %q: %w", c.APIURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api url %q must be http or https", c.APIURL)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("requestTimeout must not be negative")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idleTimeout must be positive")
	}
	return nil
}

func (c config) logLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
