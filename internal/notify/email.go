package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// Mailer submits a message. smtp.SendMail satisfies it.
type Mailer func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

const defaultSMTPPort = 25

// EmailSink mails alerts through an SMTP relay.
type EmailSink struct {
	addr string
	host string
	auth smtp.Auth
	from string
	to   []string
	send Mailer
}

// NewEmailSink creates an email sink. mailer may be nil to use
// smtp.SendMail.
func NewEmailSink(cfg types.ChannelConfig, mailer Mailer) (*EmailSink, error) {
	if cfg.SMTPHost == "" {
		return nil, fmt.Errorf("smtp host required")
	}
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("from and to addresses required")
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = defaultSMTPPort
	}
	if mailer == nil {
		mailer = smtp.SendMail
	}
	s := &EmailSink{
		addr: net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(port)),
		host: cfg.SMTPHost,
		from: cfg.From,
		to:   cfg.To,
		send: mailer,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	}
	return s, nil
}

// Name returns the sink identifier.
func (s *EmailSink) Name() string { return "email" }

// Send mails a plain-text summary of the alert.
func (s *EmailSink) Send(_ context.Context, alert types.Alert) error {
	sev := alert.Severity.String()
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.to, ", "))
	fmt.Fprintf(&b, "Subject: [%s] Simulation Alert: %s\r\n", strings.ToUpper(sev), alert.RuleName)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "Alert Triggered:\r\n\r\nRule: %s\r\nSeverity: %s\r\nMessage: %s\r\nTime: %s\r\n",
		alert.RuleName, sev, alert.Message, alert.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))

	if err := s.send(s.addr, s.auth, s.from, s.to, []byte(b.String())); err != nil {
		return fmt.Errorf("sending mail via %s: %w", s.addr, err)
	}
	return nil
}
