package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Remote holds the MeadTools account and token material. Tokens are written
// back after every login and refresh so the next run can skip the password.
type Remote struct {
	Email        string `json:"MTEmail,omitempty" yaml:"MTEmail,omitempty"`
	Password     string `json:"MTPassword,omitempty" yaml:"MTPassword,omitempty"`
	BaseURL      string `json:"MTUrl,omitempty" yaml:"MTUrl,omitempty"`
	DeviceToken  string `json:"MTDeviceToken,omitempty" yaml:"MTDeviceToken,omitempty"`
	AccessToken  string `json:"AccessToken,omitempty" yaml:"AccessToken,omitempty"`
	RefreshToken string `json:"RefreshToken,omitempty" yaml:"RefreshToken,omitempty"`
}

// SyncConfigured reports whether there is enough remote detail to attempt
// cloud sync at all: a base URL plus either credentials or stored tokens.
func (r Remote) SyncConfigured() bool {
	if r.BaseURL == "" {
		return false
	}
	if r.Email != "" && r.Password != "" {
		return true
	}
	return r.AccessToken != "" && r.RefreshToken != ""
}

// Session describes one tracked Pill. The field tags keep data.json files
// from earlier versions of the tool loading unchanged, spaces and all.
type Session struct {
	BrewName     string `json:"BrewName" yaml:"BrewName"`
	PillName     string `json:"Pill Name,omitempty" yaml:"Pill Name,omitempty"`
	MacAddress   string `json:"Mac Address" yaml:"Mac Address"`
	PollSeconds  int    `json:"Poll Interval,omitempty" yaml:"Poll Interval,omitempty" default:"120"`
	Celsius      *bool  `json:"Temp in C,omitempty" yaml:"Temp in C,omitempty"`
	RecipeID     int    `json:"MTRecipeId,omitempty" yaml:"MTRecipeId,omitempty" default:"-1"`
}

// PollInterval returns the scan window as a duration.
func (s Session) PollInterval() time.Duration {
	return time.Duration(s.PollSeconds) * time.Second
}

// TempInCelsius reports the configured temperature unit, defaulting to
// Celsius when the key is absent.
func (s Session) TempInCelsius() bool {
	if s.Celsius == nil {
		return true
	}
	return *s.Celsius
}

// Config holds application configuration
type Config struct {
	LogLevel  string    `json:"log_level,omitempty" yaml:"log_level,omitempty" default:"info"`
	MTDetails Remote    `json:"MTDetails" yaml:"MTDetails"`
	Sessions  []Session `json:"Sessions" yaml:"Sessions"`
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// Validate rejects configurations the session registry could never accept.
func (c *Config) Validate() error {
	for i, s := range c.Sessions {
		if s.BrewName == "" {
			return fmt.Errorf("session %d has no BrewName", i)
		}
		if s.MacAddress == "" {
			return fmt.Errorf("session %q has no Mac Address", s.BrewName)
		}
	}
	return nil
}

// Store loads a config file and writes it back in the same format. Writes go
// through a temp file and rename so a crash mid-save never truncates the
// token material.
type Store struct {
	path string

	mu  sync.Mutex
	cfg *Config
}

// Load reads a config file, JSON or YAML by extension, and applies defaults.
func Load(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if isYAML(path) {
		err = yaml.Unmarshal(raw, cfg)
	} else {
		err = json.Unmarshal(raw, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(path), err)
	}

	defaults.SetDefaults(cfg)
	for i := range cfg.Sessions {
		defaults.SetDefaults(&cfg.Sessions[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Store{path: path, cfg: cfg}, nil
}

// Config returns a snapshot of the current configuration.
func (s *Store) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := *s.cfg
	snapshot.Sessions = append([]Session(nil), s.cfg.Sessions...)
	return snapshot
}

// UpdateRemote mutates the remote details under the store lock and persists
// the result. Save failures are returned but leave the in-memory state
// updated, the tokens are still good for this run.
func (s *Store) UpdateRemote(mutate func(*Remote)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutate(&s.cfg.MTDetails)
	return s.save()
}

// Save persists the current configuration.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

func (s *Store) save() error {
	var (
		raw []byte
		err error
	)
	if isYAML(s.path) {
		raw, err = yaml.Marshal(s.cfg)
	} else {
		raw, err = json.MarshalIndent(s.cfg, "", "    ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
