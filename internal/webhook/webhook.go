// Package webhook serves POST /webhook on a gin HTTP server,
// validating the GitHub HMAC signature and filtering by event type
// before handing a trigger to the orchestrator.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/botminter/bm/internal/bmerrors"
	"github.com/botminter/bm/internal/dlog"
	"github.com/botminter/bm/internal/metrics"
	"github.com/botminter/bm/internal/trigger"
)

// RelevantEvents is the fixed set of GitHub event names that cause a
// launch trigger. This set is deliberately not configurable.
var RelevantEvents = map[string]bool{
	"issues":        true,
	"issue_comment": true,
	"pull_request":  true,
}

// Listener serves POST /webhook and emits a trigger for each relevant,
// correctly-signed delivery.
type Listener struct {
	Addr     string
	Secret   string // empty disables signature validation
	Log      *dlog.Writer
	Triggers chan<- trigger.Trigger
	srv      *http.Server
}

// New builds a Listener bound to addr (expected "0.0.0.0:<port>").
func New(addr, secret string, log *dlog.Writer, triggers chan<- trigger.Trigger) *Listener {
	gin.SetMode(gin.ReleaseMode)
	l := &Listener{Addr: addr, Secret: secret, Log: log, Triggers: triggers}

	router := gin.New()
	router.Use(gin.Recovery())
	router.HandleMethodNotAllowed = true
	router.POST("/webhook", l.handleWebhook)
	l.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return l
}

// ListenAndServe binds and serves, blocking until the listener is
// closed. A bind failure is returned wrapped in bmerrors.BindFailure
// with the exact documented phrasing.
func (l *Listener) ListenAndServe() error {
	err := l.srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return &bmerrors.BindFailure{Addr: l.Addr, Err: err}
	}
	return nil
}

// Shutdown closes the listener.
func (l *Listener) Shutdown() error {
	return l.srv.Close()
}

func (l *Listener) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "could not read body")
		return
	}

	if l.Secret != "" {
		sigHeader := c.GetHeader("X-Hub-Signature-256")
		if !validSignature(l.Secret, body, sigHeader) {
			l.Log.Warn("webhook: signature mismatch, rejecting request")
			metrics.WebhookEventsTotal.WithLabelValues("rejected").Inc()
			c.String(http.StatusUnauthorized, "signature mismatch")
			return
		}
	}

	eventType := c.GetHeader("X-GitHub-Event")
	if eventType == "" {
		metrics.WebhookEventsTotal.WithLabelValues("bad_request").Inc()
		c.String(http.StatusBadRequest, "missing X-GitHub-Event header")
		return
	}

	if !RelevantEvents[eventType] {
		metrics.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		c.String(http.StatusOK, "ignored")
		return
	}

	select {
	case l.Triggers <- trigger.Trigger{Source: trigger.Webhook}:
	default:
		// Trigger coalescing is the orchestrator's job; a full channel
		// here just means a trigger is already pending.
	}
	metrics.WebhookEventsTotal.WithLabelValues("accepted").Inc()
	c.String(http.StatusOK, "accepted")
}

func validSignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	given, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	return hmac.Equal(given, expected)
}

// BindAddr renders the "0.0.0.0:<port>" bind address for a given port.
func BindAddr(port int) string {
	return fmt.Sprintf("0.0.0.0:%d", port)
}
