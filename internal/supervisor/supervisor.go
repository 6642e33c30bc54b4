// Package supervisor spawns a set of member launcher processes, keeps
// each one's stdout/stderr redirected to an append-only per-member log
// file, and escalates shutdown through SIGTERM -> wait(5s) -> SIGKILL
// without busy-spinning.
package supervisor

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/botminter/bm/internal/dlog"
)

// ShutdownGrace is the per-child wait after SIGTERM before SIGKILL.
const ShutdownGrace = 5 * time.Second

// LaunchSpec describes one member to spawn.
type LaunchSpec struct {
	Member    string
	Workspace string
	Command   string
	Args      []string
	Env       []string // additional env vars, appended to the inherited environment
	LogPath   string
}

// Result reports the outcome for one member after a cycle.
type Result struct {
	Member   string
	PID      int
	ExitCode int
	SpawnErr error
}

type running struct {
	member string
	pid    int
	cmd    *exec.Cmd
}

// Run spawns every spec in parallel and waits for all of them to exit,
// or for done to close (shutdown), whichever comes first. On shutdown
// it escalates through SIGTERM and SIGKILL and still waits for every
// child to be reaped before returning.
func Run(specs []LaunchSpec, daemonLog *dlog.Writer, done <-chan struct{}) []Result {
	type exitMsg struct {
		member   string
		exitCode int
	}

	var mu sync.Mutex
	liveByMember := make(map[string]*running)
	results := make(map[string]*Result, len(specs))
	exitCh := make(chan exitMsg, len(specs))

	for _, spec := range specs {
		spec := spec
		results[spec.Member] = &Result{Member: spec.Member}

		// A log-open failure is logged once and the spawn continues with
		// the child's output discarded (nil stdout/stderr map to /dev/null).
		logFile, err := dlog.OpenMemberLog(spec.LogPath)
		if err != nil {
			daemonLog.Error("%s: failed to open log file %s: %v", spec.Member, spec.LogPath, err)
			logFile = nil
		}

		cmd := exec.Command(spec.Command, spec.Args...)
		cmd.Dir = spec.Workspace
		cmd.Env = append(cmd.Environ(), spec.Env...)
		if logFile != nil {
			cmd.Stdout = logFile
			cmd.Stderr = logFile
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		if err := cmd.Start(); err != nil {
			daemonLog.Error("%s: failed to spawn: %v", spec.Member, err)
			results[spec.Member].SpawnErr = err
			if logFile != nil {
				_ = logFile.Close()
			}
			exitCh <- exitMsg{member: spec.Member, exitCode: -1}
			continue
		}

		daemonLog.Info("%s: launched (PID %d)", spec.Member, cmd.Process.Pid)
		daemonLog.Info("%s: log file at %s", spec.Member, spec.LogPath)

		r := &running{member: spec.Member, pid: cmd.Process.Pid, cmd: cmd}
		mu.Lock()
		liveByMember[spec.Member] = r
		mu.Unlock()
		results[spec.Member].PID = cmd.Process.Pid

		go func() {
			if logFile != nil {
				defer logFile.Close()
			}
			err := cmd.Wait()
			code := exitCodeOf(err)
			mu.Lock()
			delete(liveByMember, r.member)
			mu.Unlock()
			exitCh <- exitMsg{member: r.member, exitCode: code}
		}()
	}

	remaining := len(specs)
	shuttingDown := false
	for remaining > 0 {
		select {
		case msg := <-exitCh:
			remaining--
			if res, ok := results[msg.member]; ok && res.SpawnErr == nil {
				res.ExitCode = msg.exitCode
			}
		case <-done:
			if !shuttingDown {
				shuttingDown = true
				escalate(liveByMember, &mu, daemonLog)
			}
			done = nil // don't re-trigger escalate on subsequent loop iterations
		}
	}

	out := make([]Result, 0, len(results))
	for _, spec := range specs {
		out = append(out, *results[spec.Member])
	}
	return out
}

// escalate sends SIGTERM to every still-running child's process group,
// then after ShutdownGrace sends SIGKILL to any that haven't exited.
// It does not block the caller: the exit channel in Run still collects
// each child's termination however long it takes.
func escalate(live map[string]*running, mu *sync.Mutex, daemonLog *dlog.Writer) {
	mu.Lock()
	snapshot := make([]*running, 0, len(live))
	for _, r := range live {
		snapshot = append(snapshot, r)
	}
	mu.Unlock()

	for _, r := range snapshot {
		daemonLog.Warn("%s: sending SIGTERM (PID %d)", r.member, r.pid)
		_ = syscall.Kill(-r.pid, syscall.SIGTERM)
	}

	go func() {
		time.Sleep(ShutdownGrace)
		mu.Lock()
		stillAlive := make([]*running, 0)
		for _, r := range snapshot {
			if _, ok := live[r.member]; ok {
				stillAlive = append(stillAlive, r)
			}
		}
		mu.Unlock()
		for _, r := range stillAlive {
			daemonLog.Warn("%s: did not exit within %s, sending SIGKILL (PID %d)", r.member, ShutdownGrace, r.pid)
			_ = syscall.Kill(-r.pid, syscall.SIGKILL)
		}
	}()
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// FormatLaunchError renders a spawn failure for the daemon log in the
// style used elsewhere in the supervisor.
func FormatLaunchError(member string, err error) string {
	return fmt.Sprintf("%s: spawn failed: %v", member, err)
}
