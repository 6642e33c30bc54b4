// Package orchestrator is the single-threaded event loop that accepts
// triggers from the webhook listener and poller, serializes them into
// at most one concurrent launch cycle, discovers members, and drives
// the supervisor. Triggers arriving while a cycle runs coalesce into a
// single follow-up cycle.
package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/botminter/bm/internal/bmerrors"
	"github.com/botminter/bm/internal/dlog"
	"github.com/botminter/bm/internal/metrics"
	"github.com/botminter/bm/internal/runtimefiles"
	"github.com/botminter/bm/internal/shutdown"
	"github.com/botminter/bm/internal/supervisor"
	"github.com/botminter/bm/internal/topology"
	"github.com/botminter/bm/internal/trigger"
)

// RequiredSchema is the workzone schema version this binary requires.
const RequiredSchema = "1.0"

// RunFunc matches supervisor.Run's signature, injectable for tests.
type RunFunc func(specs []supervisor.LaunchSpec, log *dlog.Writer, done <-chan struct{}) []supervisor.Result

// Orchestrator drives launch cycles for one team.
type Orchestrator struct {
	Team             string
	Workzone         string
	GHToken          string
	LauncherCommand  string
	LauncherArgsFunc func(promptPath string) []string

	Log      *dlog.Writer
	Store    *runtimefiles.Store
	Triggers <-chan trigger.Trigger
	Shutdown *shutdown.Flag

	RunCycle RunFunc // defaults to supervisor.Run
}

func (o *Orchestrator) runner() RunFunc {
	if o.RunCycle != nil {
		return o.RunCycle
	}
	return supervisor.Run
}

func (o *Orchestrator) launcherArgs(promptPath string) []string {
	if o.LauncherArgsFunc != nil {
		return o.LauncherArgsFunc(promptPath)
	}
	return []string{promptPath}
}

// CheckSchema verifies the team's workzone schema version matches
// RequiredSchema. The version is read from a SCHEMA_VERSION file at
// {workzone}/{team}/SCHEMA_VERSION; absence counts as mismatch.
func CheckSchema(workzone, team string) error {
	path := filepath.Join(workzone, team, "SCHEMA_VERSION")
	b, err := os.ReadFile(path)
	found := strings.TrimSpace(string(b))
	if err != nil {
		found = "(missing)"
	}
	if found != RequiredSchema {
		return &bmerrors.SchemaMismatch{Found: found, Want: RequiredSchema}
	}
	return nil
}

type cycleResult struct {
	membersLaunched int
	failures        int
}

// Run is the main event loop. It returns once the shutdown flag has
// been observed and the in-flight cycle (if any) has completed.
func (o *Orchestrator) Run() {
	pending := false
	var inFlight chan cycleResult

	for {
		if inFlight == nil {
			select {
			case <-o.Shutdown.Done():
				return
			case <-o.Triggers:
				inFlight = make(chan cycleResult, 1)
				go o.runCycleAsync(inFlight)
			}
			continue
		}

		select {
		case <-o.Triggers:
			pending = true
		case <-inFlight:
			inFlight = nil
			if o.Shutdown.IsSet() {
				return
			}
			if pending {
				pending = false
				inFlight = make(chan cycleResult, 1)
				go o.runCycleAsync(inFlight)
			}
		}
	}
}

func (o *Orchestrator) runCycleAsync(done chan<- cycleResult) {
	done <- o.runCycle()
}

func (o *Orchestrator) runCycle() cycleResult {
	members, err := topology.Discover(o.Workzone, o.Team)
	if err != nil {
		o.Log.Error("discovering members: %v", err)
		return cycleResult{}
	}
	if len(members) == 0 {
		o.Log.Warn("no workspace found")
		return cycleResult{}
	}

	cycleID := uuid.NewString()
	metrics.CyclesTotal.Inc()
	o.Log.Info("[cycle %s] Daemon starting launch cycle (%d members)", cycleID, len(members))

	specs := make([]supervisor.LaunchSpec, 0, len(members))
	for _, m := range members {
		var env []string
		if o.GHToken != "" {
			env = append(env, "GH_TOKEN="+o.GHToken)
		}
		specs = append(specs, supervisor.LaunchSpec{
			Member:    m.Name,
			Workspace: m.Workspace,
			Command:   o.LauncherCommand,
			Args:      o.launcherArgs(m.PromptPath),
			Env:       env,
			LogPath:   o.Store.MemberLogPath(m.Name),
		})
	}

	results := o.runner()(specs, o.Log, o.Shutdown.Done())

	running := make(map[string]topology.MemberTopology, len(results))
	failures := 0
	for _, r := range results {
		if r.SpawnErr != nil {
			failures++
			metrics.MemberSpawnFailuresTotal.Inc()
			o.Log.Error("%s", supervisor.FormatLaunchError(r.Member, r.SpawnErr))
			continue
		}
		o.Log.Info("%s: exited with code %d", r.Member, r.ExitCode)
		running[r.Member] = topology.MemberTopology{Status: fmt.Sprintf("exit:%d", r.ExitCode), PID: r.PID}
	}

	if err := topology.Save(o.Workzone, o.Team, topology.NewFromCycle(running)); err != nil {
		o.Log.Warn("saving topology: %v", err)
	}

	o.Log.Info("[cycle %s] Launch cycle complete: %d launched, %d failed", cycleID, len(results)-failures, failures)
	return cycleResult{membersLaunched: len(results) - failures, failures: failures}
}
