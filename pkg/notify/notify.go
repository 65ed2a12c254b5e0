// Package notify delivers failure reports to operators.
//
// The default transport pipes a message to sendmail, as the legacy shell
// tooling did. Deliveries are rate limited so that a burst of failing jobs
// (a dead backup disk fails every target) does not flood the mailbox.
// Messages over the limit are dropped and counted in the next delivered one;
// Notify never waits for the limiter.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/log"
)

// Notifier delivers a message to operators
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Default sendmail settings
const (
	DefaultSendmailPath = "/usr/sbin/sendmail"
	DefaultRecipient    = "admin"
)

// Sendmail delivers messages through a sendmail-compatible binary
type Sendmail struct {
	Path      string
	Recipient string
	Timeout   time.Duration

	limiter    *rate.Limiter
	suppressed atomic.Int64
	logger     zerolog.Logger
}

// NewSendmail creates a sendmail notifier allowing burst messages at once
// and one more every interval
func NewSendmail(path, recipient string, interval time.Duration, burst int) *Sendmail {
	if path == "" {
		path = DefaultSendmailPath
	}
	if recipient == "" {
		recipient = DefaultRecipient
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Sendmail{
		Path:      path,
		Recipient: recipient,
		Timeout:   30 * time.Second,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    log.WithComponent("notify"),
	}
}

// Notify pipes "Subject: ...\n\n<body>" into sendmail. Over the rate limit
// the message is dropped.
func (s *Sendmail) Notify(ctx context.Context, subject, body string) error {
	if !s.limiter.Allow() {
		n := s.suppressed.Add(1)
		s.logger.Warn().Str("subject", subject).Int64("suppressed", n).Msg("Notification rate limit reached, message dropped")
		return nil
	}
	if n := s.suppressed.Swap(0); n > 0 {
		body += fmt.Sprintf("\n\n%d further notification(s) were suppressed by the rate limit", n)
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.Path, s.Recipient)
	cmd.Stdin = strings.NewReader(Message(subject, body))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("sendmail failed: %v: %s", err, strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("sendmail failed: %w", err)
	}
	return nil
}

// Message renders a mail message with a subject header
func Message(subject, body string) string {
	subject = strings.ReplaceAll(subject, "\n", " ")
	return fmt.Sprintf("Subject: %s\n\n%s\n", subject, body)
}

// Logger records notifications in the log instead of delivering them
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a log-only notifier
func NewLogger() *Logger {
	return &Logger{logger: log.WithComponent("notify")}
}

func (l *Logger) Notify(_ context.Context, subject, body string) error {
	l.logger.Warn().Str("subject", subject).Msg(body)
	return nil
}

// Multi fans a message out to several notifiers and returns the first error
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, subject, body string) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, subject, body); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Send delivers a notification and logs delivery errors. Failures to
// notify never abort the caller.
func Send(ctx context.Context, n Notifier, subject, body string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, subject, body); err != nil {
		logger := log.WithComponent("notify")
		logger.Error().Err(err).Str("subject", subject).Msg("Failed to send notification")
	}
}
