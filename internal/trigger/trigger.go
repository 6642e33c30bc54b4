// Package trigger defines the shared Trigger value passed from the
// webhook listener and poller to the launch orchestrator.
package trigger

// Source identifies what produced a Trigger.
type Source string

const (
	Webhook Source = "webhook"
	Poll    Source = "poll"
	Manual  Source = "manual"
)

// Trigger is an in-memory request to run a launch cycle. It carries no
// payload beyond provenance; triggers are idempotent and collapse into
// at most one pending follow-up cycle.
type Trigger struct {
	Source Source
}
