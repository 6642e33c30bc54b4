// Package bm re-exports the daemon's core types for embedding and
// testing: thin aliases and forwarding constructors over the internal
// packages.
package bm

import (
	"time"

	"github.com/botminter/bm/internal/dlog"
	"github.com/botminter/bm/internal/orchestrator"
	"github.com/botminter/bm/internal/poller"
	"github.com/botminter/bm/internal/runtimefiles"
	"github.com/botminter/bm/internal/shutdown"
	"github.com/botminter/bm/internal/supervisor"
	"github.com/botminter/bm/internal/teamconfig"
	"github.com/botminter/bm/internal/topology"
	"github.com/botminter/bm/internal/trigger"
	"github.com/botminter/bm/internal/webhook"
)

type (
	ConfigSnapshot = runtimefiles.ConfigSnapshot
	RuntimeStatus  = runtimefiles.Status
	LaunchSpec     = supervisor.LaunchSpec
	LaunchResult   = supervisor.Result
	Member         = topology.Member
	Trigger        = trigger.Trigger
	TeamConfig     = teamconfig.Config
	Team           = teamconfig.Team
)

// RuntimeFiles opens the runtime-file store for a team under stateRoot.
func RuntimeFiles(stateRoot, team string) *runtimefiles.Store {
	return runtimefiles.New(stateRoot, team)
}

// NewShutdownFlag installs SIGTERM/SIGINT handlers and returns the
// resulting shutdown flag.
func NewShutdownFlag() *shutdown.Flag {
	return shutdown.New()
}

// OpenDaemonLog opens (creating if absent) the daemon's structured log.
func OpenDaemonLog(path string) (*dlog.Writer, error) {
	return dlog.Open(path)
}

// NewOrchestrator constructs an orchestrator.Orchestrator for embedding.
func NewOrchestrator(o orchestrator.Orchestrator) *orchestrator.Orchestrator {
	return &o
}

// NewWebhookListener constructs a webhook.Listener for embedding.
func NewWebhookListener(addr, secret string, log *dlog.Writer, triggers chan<- trigger.Trigger) *webhook.Listener {
	return webhook.New(addr, secret, log, triggers)
}

// NewPoller constructs a poller.Poller for embedding.
func NewPoller(owner, repo, token string, interval time.Duration, cursorPath string, log *dlog.Writer, triggers chan<- trigger.Trigger) *poller.Poller {
	return poller.New(owner, repo, token, interval, cursorPath, log, triggers)
}

// LoadTeamConfig reads the external team registry at path.
func LoadTeamConfig(path string) (*teamconfig.Config, error) {
	return teamconfig.Load(path)
}
