// Package teamconfig reads the external team registry this daemon
// consumes as a read-only collaborator: ~/.botminter/config.yml. It is
// the daemon's only window into per-team GitHub credentials and
// workzone layout.
package teamconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Credentials holds per-team secrets. The daemon uses GHToken (lifted
// into a child's env) and WebhookSecret (for HMAC validation); Telegram
// is read-only passthrough, unused by the daemon itself.
type Credentials struct {
	GHToken        string `mapstructure:"gh_token"`
	TelegramToken  string `mapstructure:"telegram_bot_token"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
}

// Team is one entry in the registry.
type Team struct {
	Name        string      `mapstructure:"name"`
	Path        string      `mapstructure:"path"`
	Profile     string      `mapstructure:"profile"`
	GitHubRepo  string      `mapstructure:"github_repo"` // "owner/repo"
	Credentials Credentials `mapstructure:"credentials"`
}

// Config is the full registry at ~/.botminter/config.yml.
type Config struct {
	Workzone    string `mapstructure:"workzone"`
	DefaultTeam string `mapstructure:"default_team"`
	Teams       []Team `mapstructure:"teams"`
}

// DefaultPath returns ~/.botminter/config.yml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".botminter", "config.yml"), nil
}

// Load reads and parses the registry at path using viper, warning (not
// failing) if the file's permissions are looser than 0600 — it holds
// credentials.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		fmt.Fprintf(os.Stderr, "warning: %s has permissions %v, expected 0600 or stricter\n", path, info.Mode().Perm())
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}
	return &cfg, nil
}

// ResolveTeam applies the flag > default_team > error precedence.
func (c *Config) ResolveTeam(flag string) (*Team, error) {
	name := flag
	if name == "" {
		name = c.DefaultTeam
	}
	if name == "" {
		return nil, fmt.Errorf("no team specified and no default_team configured; available teams: %s", c.teamNames())
	}
	for i := range c.Teams {
		if c.Teams[i].Name == name {
			return &c.Teams[i], nil
		}
	}
	return nil, fmt.Errorf("team %q not found; available teams: %s", name, c.teamNames())
}

func (c *Config) teamNames() string {
	if len(c.Teams) == 0 {
		return "(none configured)"
	}
	names := make([]string, 0, len(c.Teams))
	for _, t := range c.Teams {
		names = append(names, t.Name)
	}
	out := names[0]
	for _, n := range names[1:] {
		out += ", " + n
	}
	return out
}
