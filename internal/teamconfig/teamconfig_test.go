package teamconfig

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
workzone: /home/user/workzone
default_team: acme
teams:
  - name: acme
    path: /home/user/workzone/acme
    profile: ralph
    github_repo: acme-corp/product
    credentials:
      gh_token: ghp_abc123
      telegram_bot_token: ""
      webhook_secret: s3cr3t
  - name: beta
    path: /home/user/workzone/beta
    profile: ralph
    github_repo: beta-corp/product
    credentials:
      gh_token: ghp_def456
`

func writeConfig(t *testing.T, contents string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(contents), perm); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesTeamsAndCredentials(t *testing.T) {
	path := writeConfig(t, sampleYAML, 0o600)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workzone != "/home/user/workzone" || cfg.DefaultTeam != "acme" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Teams) != 2 {
		t.Fatalf("expected 2 teams, got %d", len(cfg.Teams))
	}
	if cfg.Teams[0].Credentials.GHToken != "ghp_abc123" {
		t.Fatalf("unexpected credentials: %+v", cfg.Teams[0].Credentials)
	}
}

func TestResolveTeamPrecedence(t *testing.T) {
	path := writeConfig(t, sampleYAML, 0o600)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	team, err := cfg.ResolveTeam("beta")
	if err != nil {
		t.Fatal(err)
	}
	if team.Name != "beta" {
		t.Fatalf("expected flag to win, got %q", team.Name)
	}

	team, err = cfg.ResolveTeam("")
	if err != nil {
		t.Fatal(err)
	}
	if team.Name != "acme" {
		t.Fatalf("expected default_team to win, got %q", team.Name)
	}
}

func TestResolveTeamUnknownNameErrors(t *testing.T) {
	path := writeConfig(t, sampleYAML, 0o600)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.ResolveTeam("ghost"); err == nil {
		t.Fatal("expected error for unknown team")
	}
}

func TestResolveTeamNoDefaultAndNoFlagErrors(t *testing.T) {
	cfg := &Config{Teams: []Team{{Name: "acme"}}}
	if _, err := cfg.ResolveTeam(""); err == nil {
		t.Fatal("expected error when no team resolvable")
	}
}
