// Package config loads the YAML file that drives a solaudit deployment.
// The loader unmarshals and checks that the handful of fields every
// component needs are present, nothing more.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// SASL holds the PLAIN credentials used at registration.
type SASL struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Oper holds the oper-up block: the name passed to CHALLENGE/OPER, the
// path to a CHALLENGE key file (solaudit itself never parses it), and a
// plain OPER password fallback for deployments that don't use CHALLENGE
// at all.
type Oper struct {
	Name         string `yaml:"name"`
	ChallengeKey string `yaml:"challenge_key_file"`
	Password     string `yaml:"password"`
}

// Config is the top-level shape of the YAML config file.
type Config struct {
	Server      string   `yaml:"server"`
	Nickname    string   `yaml:"nickname"`
	Realname    string   `yaml:"realname"`
	SASL        SASL     `yaml:"sasl"`
	Oper        Oper     `yaml:"oper"`
	Channels    []string `yaml:"channels"`
	LogChannel  string   `yaml:"log_channel"`
	RejectCap   int      `yaml:"reject_cap"`
	DatabaseDSN string   `yaml:"database_dsn"`
	// DNSServer is the resolver (host:port) internal/dnsresolve queries for
	// the MX/A/AAAA/TXT tree a NickServ REGISTER triggers. Optional: an
	// empty value falls back to DefaultDNSServer.
	DNSServer string `yaml:"dns_server"`
}

// DefaultDNSServer is used when the config omits dns_server.
const DefaultDNSServer = "1.1.1.1:53"

// Load reads and unmarshals the config file at path, and checks that the
// fields every component depends on are non-empty. It does not dial the
// server, open the database, or read the CHALLENGE key file; those
// failures surface later, from the components that actually own them.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.Server == "" {
		missing = append(missing, "server")
	}
	if c.Nickname == "" {
		missing = append(missing, "nickname")
	}
	if c.Oper.Name == "" {
		missing = append(missing, "oper.name")
	}
	if c.Oper.ChallengeKey == "" && c.Oper.Password == "" {
		missing = append(missing, "oper.challenge_key_file or oper.password")
	}
	if c.DatabaseDSN == "" {
		missing = append(missing, "database_dsn")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required field(s): %v", missing)
	}
	if c.RejectCap < 0 {
		return errors.New("reject_cap must be >= 0")
	}
	return nil
}
