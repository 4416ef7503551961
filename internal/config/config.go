package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/rflorenc/cics-explorer/internal/logging"
	"github.com/rflorenc/cics-explorer/internal/models"
)

// Defaults applied to anything left unset.
const (
	DefaultListen    = ":8080"
	DefaultPageSize  = 250
	DefaultPollDelay = time.Second
	DefaultMaxPolls  = 10
)

// ProfileConfig represents a CMCI connection in the config file.
type ProfileConfig struct {
	Name     string `yaml:"name"`
	Scheme   string `yaml:"scheme"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// RejectUnauthorized defaults to true when omitted.
	RejectUnauthorized *bool  `yaml:"rejectUnauthorized"`
	CACertFile         string `yaml:"caCertFile"`
	CICSPlex           string `yaml:"cicsPlex"`
	Region             string `yaml:"regionName"`
}

// Config holds all configuration (CLI flags + config file).
type Config struct {
	Listen    string          `yaml:"listen"`
	PageSize  int             `yaml:"pageSize"`
	PollDelay time.Duration   `yaml:"pollDelay"`
	MaxPolls  int             `yaml:"maxPolls"`
	Log       logging.Config  `yaml:"log"`
	Profiles  []ProfileConfig `yaml:"profiles"`

	// internal: path to config file (from CLI flag)
	configFile string
}

// BindFlags registers the CLI flags that override config file values.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.configFile, "config", "", "Path to config file (YAML)")
	fs.StringVar(&c.Listen, "listen", "", "HTTP listen address")
	fs.IntVar(&c.PageSize, "page-size", 0, "Records fetched per page")
	fs.DurationVar(&c.PollDelay, "poll-delay", 0, "Delay between polls after an action")
	fs.IntVar(&c.MaxPolls, "max-polls", 0, "Maximum polls after an action")
	fs.StringVar(&c.Log.Level, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringSliceVar(&c.Log.Writer, "log-writer", nil, "Log writers (console, json, file)")
	fs.StringVar(&c.Log.File, "log-file", "", "Log file path for the file writer")
}

// Load overlays the config file (when --config was given) and applies
// defaults. Flags explicitly set on fs take precedence over file values.
func (c *Config) Load(fs *pflag.FlagSet) error {
	if c.configFile != "" {
		if err := c.loadFile(c.configFile, fs); err != nil {
			return err
		}
	}
	c.applyDefaults()
	return c.validate()
}

// loadFile reads a YAML config file. Values from the file are only applied
// if the corresponding CLI flag was not explicitly set.
func (c *Config) loadFile(path string, fs *pflag.FlagSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	changed := func(name string) bool { return fs != nil && fs.Changed(name) }
	if !changed("listen") && file.Listen != "" {
		c.Listen = file.Listen
	}
	if !changed("page-size") && file.PageSize != 0 {
		c.PageSize = file.PageSize
	}
	if !changed("poll-delay") && file.PollDelay != 0 {
		c.PollDelay = file.PollDelay
	}
	if !changed("max-polls") && file.MaxPolls != 0 {
		c.MaxPolls = file.MaxPolls
	}
	if !changed("log-level") && file.Log.Level != "" {
		c.Log.Level = file.Log.Level
	}
	if !changed("log-writer") && len(file.Log.Writer) > 0 {
		c.Log.Writer = file.Log.Writer
	}
	if !changed("log-file") && file.Log.File != "" {
		c.Log.File = file.Log.File
	}
	c.Log.MaxSizeMB = file.Log.MaxSizeMB
	c.Log.MaxBackups = file.Log.MaxBackups

	// Profiles always come from config file
	c.Profiles = file.Profiles
	return nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PollDelay <= 0 {
		c.PollDelay = DefaultPollDelay
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = DefaultMaxPolls
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if len(c.Log.Writer) == 0 {
		c.Log.Writer = []string{"console"}
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Profiles))
	for i, p := range c.Profiles {
		if p.Name == "" {
			return fmt.Errorf("profile %d: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("profile %s: duplicate name", p.Name)
		}
		seen[p.Name] = true
		if p.Host == "" {
			return fmt.Errorf("profile %s: host is required", p.Name)
		}
	}
	return nil
}

// Profile converts the file entry into a connection profile, reading the CA
// bundle when one is configured.
func (pc ProfileConfig) Profile() (*models.Profile, error) {
	p := &models.Profile{
		Name:               pc.Name,
		Scheme:             pc.Scheme,
		Host:               pc.Host,
		Port:               pc.Port,
		User:               pc.User,
		Password:           pc.Password,
		RejectUnauthorized: true,
		CICSPlex:           pc.CICSPlex,
		Region:             pc.Region,
	}
	if pc.RejectUnauthorized != nil {
		p.RejectUnauthorized = *pc.RejectUnauthorized
	}
	if pc.CACertFile != "" {
		pem, err := os.ReadFile(pc.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("profile %s: reading CA bundle: %w", pc.Name, err)
		}
		p.CACert = string(pem)
	}
	p.ApplyDefaults()
	return p, nil
}

// LoadProfiles fills store with every configured profile.
func (c *Config) LoadProfiles(store *models.ProfileStore) error {
	for _, pc := range c.Profiles {
		p, err := pc.Profile()
		if err != nil {
			return err
		}
		if !store.Create(p) {
			return fmt.Errorf("profile %s: duplicate name", p.Name)
		}
	}
	return nil
}
