// Optional configuration file and environment overrides. Everything here
// is about defaults and delivery settings; the command works without any
// of it.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML configuration file.
type fileConfig struct {
	Email    emailConfig    `yaml:"email"`
	Kindle   kindleConfig   `yaml:"kindle"`
	Defaults defaultsConfig `yaml:"defaults"`
}

type emailConfig struct {
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type kindleConfig struct {
	Email string `yaml:"email"`
}

// defaultsConfig supplies values for flags not given on the command line.
// Pointers distinguish "unset" from false/zero.
type defaultsConfig struct {
	Output    string        `yaml:"output"`
	Format    string        `yaml:"format"`
	Kindle    *bool         `yaml:"kindle"`
	Grayscale *bool         `yaml:"grayscale"`
	MaxWidth  *int          `yaml:"max_width"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	Proxy     string        `yaml:"proxy"`
	Extractor string        `yaml:"extractor"`
}

// envPrefix namespaces the environment overrides.
const envPrefix = "READERLET_"

// defaultConfigPath returns $XDG_CONFIG_HOME/readerlet/config.yaml (or the
// platform equivalent).
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "readerlet", "config.yaml")
}

// loadConfig reads the YAML file at path and applies environment
// overrides. With path empty the default location is tried and a missing
// file is not an error.
func loadConfig(path string) (*fileConfig, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}

	cfg := &fileConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
			log.Debugf("loaded config %s", path)
		case explicit || !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides delivery settings from READERLET_* variables.
func (c *fileConfig) applyEnv() error {
	strs := map[string]*string{
		"SMTP_HOST":     &c.Email.SMTPHost,
		"SMTP_USERNAME": &c.Email.Username,
		"SMTP_PASSWORD": &c.Email.Password,
		"SMTP_FROM":     &c.Email.From,
		"KINDLE_EMAIL":  &c.Kindle.Email,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "SMTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sSMTP_PORT %q: %w", envPrefix, v, err)
		}
		c.Email.SMTPPort = port
	}
	return nil
}

// Validate reports the first delivery setting that is missing. It is only
// consulted when sending.
func (c *fileConfig) Validate() error {
	switch {
	case c.Email.SMTPHost == "":
		return fmt.Errorf("email.smtp_host is required")
	case c.Email.SMTPPort <= 0 || c.Email.SMTPPort > 65535:
		return fmt.Errorf("email.smtp_port must be between 1 and 65535")
	case c.Email.Username == "":
		return fmt.Errorf("email.username is required")
	case c.Email.Password == "":
		return fmt.Errorf("email.password is required")
	case c.Kindle.Email == "":
		return fmt.Errorf("kindle.email is required")
	}
	return nil
}
