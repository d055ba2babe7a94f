package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	configDirName  = "graphfleet"
	configFileName = "config.yaml"
)

// Profile holds the connection settings for one fleet API endpoint.
type Profile struct {
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
}

// ProfileConfig is the on-disk CLI configuration: named profiles plus
// the currently selected one.
type ProfileConfig struct {
	CurrentProfile string             `yaml:"current_profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// configDir returns the base config directory (~/.config/graphfleet/).
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}

	return filepath.Join(xdgConfig, configDirName), nil
}

// LoadProfiles reads the CLI config file. A missing file is not an
// error: it returns an empty config.
func LoadProfiles() (*ProfileConfig, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return &ProfileConfig{Profiles: map[string]Profile{}}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg ProfileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}

	return &cfg, nil
}

// SaveProfiles writes the CLI config file, creating the directory if
// needed.
func SaveProfiles(cfg *ProfileConfig) error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(filepath.Join(dir, configFileName), data, 0600)
}

// SetProfile adds or replaces a named profile and selects it.
func SetProfile(name, apiURL, apiKey string) error {
	name = sanitizeName(name)
	if name == "" {
		return fmt.Errorf("profile name is empty")
	}

	cfg, err := LoadProfiles()
	if err != nil {
		return err
	}

	cfg.Profiles[name] = Profile{APIURL: strings.TrimRight(apiURL, "/"), APIKey: apiKey}
	cfg.CurrentProfile = name

	return SaveProfiles(cfg)
}

// UseProfile selects an existing profile.
func UseProfile(name string) error {
	cfg, err := LoadProfiles()
	if err != nil {
		return err
	}

	if _, ok := cfg.Profiles[name]; !ok {
		return fmt.Errorf("profile %q not found", name)
	}
	cfg.CurrentProfile = name

	return SaveProfiles(cfg)
}

// ResolveClient builds an API client from, in order of precedence:
// FLEET_API_URL/FLEET_API_KEY environment variables, then the current
// profile from the config file.
func ResolveClient() (*Client, error) {
	apiURL := os.Getenv("FLEET_API_URL")
	apiKey := os.Getenv("FLEET_API_KEY")

	if apiURL == "" || apiKey == "" {
		cfg, err := LoadProfiles()
		if err != nil {
			return nil, err
		}
		if cfg.CurrentProfile != "" {
			p, ok := cfg.Profiles[cfg.CurrentProfile]
			if !ok {
				return nil, fmt.Errorf("current profile %q not found in config", cfg.CurrentProfile)
			}
			if apiURL == "" {
				apiURL = p.APIURL
			}
			if apiKey == "" {
				apiKey = p.APIKey
			}
		}
	}

	if apiURL == "" {
		return nil, fmt.Errorf("no API URL configured: set FLEET_API_URL or run 'fleetctl profile set'")
	}

	return NewClient(strings.TrimRight(apiURL, "/"), apiKey), nil
}

func sanitizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, name)
	return strings.Trim(name, "-")
}
