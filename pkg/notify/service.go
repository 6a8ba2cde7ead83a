// Package notify delivers session lifecycle notifications to Slack. A nil
// *Service is a valid, inert value: every method is a no-op, so the
// orchestrator can hold one unconditionally and callers never branch on
// whether Slack is configured.
package notify

import (
	"context"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/reqflow/reqflow/pkg/domain"
)

// Config configures the Slack sink. Sessions notifications post if Enabled
// is true and both Token and Channel are set.
type Config struct {
	Enabled bool
	Token   string
	Channel string
}

// Service posts session start/terminal notifications to one Slack channel.
type Service struct {
	client  *goslack.Client
	channel string
	log     *slog.Logger
}

// NewService builds a Service, or returns nil if cfg leaves Slack
// unconfigured.
func NewService(cfg Config) *Service {
	if !cfg.Enabled || cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:  goslack.New(cfg.Token),
		channel: cfg.Channel,
		log:     slog.Default().With("component", "notify"),
	}
}

// NotifySessionStarted posts a "session started" message. Fail-open: errors
// are logged, never returned, since a notification failure must never fail
// the session it describes.
func (s *Service) NotifySessionStarted(ctx context.Context, sess *domain.Session) {
	if s == nil {
		return
	}
	s.post(ctx, sess.ID, buildStartedMessage(sess), 5*time.Second)
}

// NotifySessionTerminal posts a "session done/failed" message.
func (s *Service) NotifySessionTerminal(ctx context.Context, sess *domain.Session) {
	if s == nil {
		return
	}
	s.post(ctx, sess.ID, buildTerminalMessage(sess), 10*time.Second)
}

func (s *Service) post(ctx context.Context, sessionID string, blocks []goslack.Block, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, _, err := s.client.PostMessageContext(ctx, s.channel, goslack.MsgOptionBlocks(blocks...)); err != nil {
		s.log.Error("notify: failed to post slack message", "session_id", sessionID, "error", err)
	}
}
