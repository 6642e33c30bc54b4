// Package bmerrors defines the typed error values the CLI layer switches
// on to pick an exit code and a message, per the daemon's error taxonomy.
package bmerrors

import "fmt"

// DaemonAlreadyRunning is returned by the runtime-file store's claim
// protocol when the PID file points at a live process.
type DaemonAlreadyRunning struct {
	PID int
}

func (e *DaemonAlreadyRunning) Error() string {
	return "Daemon already running"
}

// NotRunningStale describes a PID file whose process is dead. The
// runtime-file store does not return it: Claim reports a reclaimed stale
// PID through its bool result and StatusCheck through Status.Stale.
type NotRunningStale struct {
	PID int
}

func (e *NotRunningStale) Error() string {
	return fmt.Sprintf("stale PID %d", e.PID)
}

// SchemaMismatch is returned when a team's workzone schema version does
// not match the version this binary requires.
type SchemaMismatch struct {
	Found string
	Want  string
}

func (e *SchemaMismatch) Error() string {
	return fmt.Sprintf("team schema %q does not match required schema: requires schema %s", e.Found, e.Want)
}

// BindFailure wraps a listener bind error with the exact documented phrasing.
type BindFailure struct {
	Addr string
	Err  error
}

func (e *BindFailure) Error() string {
	return fmt.Sprintf("Failed to bind to %s", e.Addr)
}

func (e *BindFailure) Unwrap() error { return e.Err }

// NotRunning indicates stop/status found no PID file at all.
type NotRunning struct{}

func (e *NotRunning) Error() string { return "Daemon not running" }

// MissingConfig indicates the team configuration could not be loaded.
type MissingConfig struct {
	Team string
}

func (e *MissingConfig) Error() string {
	return fmt.Sprintf("no configuration found for team %q", e.Team)
}
