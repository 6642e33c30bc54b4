// Package poller periodically calls the GitHub Events API, persists a
// last-seen-event cursor, and enqueues a launch trigger when new
// relevant events appear. The first successful poll only establishes
// the cursor; it never triggers a cycle.
package poller

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/botminter/bm/internal/dlog"
	"github.com/botminter/bm/internal/metrics"
	"github.com/botminter/bm/internal/trigger"
)

// Event is the subset of a GitHub event the daemon reads.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Cursor is the persisted poll state.
type Cursor struct {
	LastEventID string    `json:"last_event_id"`
	LastPollAt  time.Time `json:"last_poll_at"`
}

// RelevantEvents mirrors webhook.RelevantEvents in snake_case form; kept
// independent to avoid a poller->webhook import for one map.
var RelevantEvents = map[string]bool{
	"issues":        true,
	"issue_comment": true,
	"pull_request":  true,
}

// normalizeEventType maps both webhook-header snake_case and
// Events-API PascalCase+"Event" forms to the same relevant-set key,
// e.g. "IssuesEvent" and "issues" both normalize to "issues".
func normalizeEventType(t string) string {
	lower := strings.ToLower(t)
	lower = strings.TrimSuffix(lower, "event")
	lower = strings.ReplaceAll(lower, "_", "")
	return lower
}

var normalizedRelevant = func() map[string]bool {
	m := make(map[string]bool, len(RelevantEvents))
	for k := range RelevantEvents {
		m[normalizeEventType(k)] = true
	}
	return m
}()

func isRelevant(eventType string) bool {
	return normalizedRelevant[normalizeEventType(eventType)]
}

// HTTPDoer is the minimal interface the poller needs from an HTTP
// client, so tests can substitute a fake transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Poller periodically polls one team's GitHub repo for new events.
type Poller struct {
	Owner, Repo string
	Token       string
	Interval    time.Duration
	CursorPath  string
	Log         *dlog.Writer
	Triggers    chan<- trigger.Trigger
	Client      HTTPDoer

	cursor Cursor
}

// New constructs a Poller, hydrating its cursor from CursorPath if present.
func New(owner, repo, token string, interval time.Duration, cursorPath string, log *dlog.Writer, triggers chan<- trigger.Trigger) *Poller {
	p := &Poller{
		Owner: owner, Repo: repo, Token: token, Interval: interval,
		CursorPath: cursorPath, Log: log, Triggers: triggers,
		Client: http.DefaultClient,
	}
	if c, err := loadCursor(cursorPath); err == nil && c != nil {
		p.cursor = *c
	}
	return p
}

func loadCursor(path string) (*Cursor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func saveCursor(path string, c Cursor) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Run executes the poll loop until done is closed. The interval sleep
// observes done at least once per second. The HTTP call does not watch
// done: a request already in flight runs to completion before Run
// returns.
func (p *Poller) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		if err := p.pollOnce(); err != nil {
			p.Log.Warn("poll: %v", err)
			metrics.PollErrorsTotal.Inc()
		}

		if !p.sleepInterruptible(p.Interval, done) {
			return
		}
	}
}

// sleepInterruptible sleeps for d, checking done at least once per
// second, and returns false if done fired during the sleep.
func (p *Poller) sleepInterruptible(d time.Duration, done <-chan struct{}) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		tick := remaining
		if tick > time.Second {
			tick = time.Second
		}
		select {
		case <-done:
			return false
		case <-time.After(tick):
		}
	}
}

func (p *Poller) pollOnce() error {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/events", p.Owner, p.Repo)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if p.Token != "" {
		req.Header.Set("Authorization", "token "+p.Token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("github events api returned %d: %s", resp.StatusCode, string(body))
	}

	var events []Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return fmt.Errorf("decoding events: %w", err)
	}

	firstPoll := p.cursor.LastEventID == ""

	var newEvents []Event
	for _, e := range events {
		if e.ID == p.cursor.LastEventID {
			break
		}
		newEvents = append(newEvents, e)
	}
	if firstPoll {
		// Bootstrap: the first successful poll establishes the cursor
		// silently, regardless of how many events are present.
		newEvents = nil
	}

	if len(events) > 0 {
		p.cursor.LastEventID = events[0].ID
	}
	p.cursor.LastPollAt = time.Now().UTC()
	if err := saveCursor(p.CursorPath, p.cursor); err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}

	for _, e := range newEvents {
		if isRelevant(e.Type) {
			select {
			case p.Triggers <- trigger.Trigger{Source: trigger.Poll}:
			default:
			}
			break
		}
	}

	return nil
}
