package notify

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/wneessen/go-mail"
)

const DefaultSMTPPort = 587

type MailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	// To may hold several comma separated addresses.
	To string
}

func (c MailConfig) Complete() bool {
	return c.Host != "" && c.User != "" && c.Password != "" && c.From != "" && len(c.recipients()) > 0
}

func (c MailConfig) recipients() []string {
	var out []string
	for _, r := range strings.Split(c.To, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Mail sends the sighting over SMTP with STARTTLS, attaching the snapshot
// when one exists.
type Mail struct {
	cfg  MailConfig
	send func(ctx context.Context, cfg MailConfig, msg *mail.Msg) error
}

func NewMail(cfg MailConfig) *Mail {
	if cfg.Port == 0 {
		cfg.Port = DefaultSMTPPort
	}
	return &Mail{cfg: cfg, send: dialAndSend}
}

func (m *Mail) Name() string { return "email" }

func (m *Mail) Configured() bool { return m.cfg.Complete() }

func (m *Mail) Send(ctx context.Context, s Sighting) error {
	if !m.Configured() {
		return ErrNotConfigured
	}
	msg, err := m.message(s)
	if err != nil {
		return err
	}
	return m.send(ctx, m.cfg, msg)
}

func (m *Mail) message(s Sighting) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(m.cfg.recipients()...); err != nil {
		return nil, fmt.Errorf("set to: %w", err)
	}
	msg.Subject(s.Subject())
	msg.SetBodyString(mail.TypeTextPlain, s.Body())

	if s.ImagePath != "" {
		if _, err := os.Stat(s.ImagePath); err == nil {
			msg.AttachFile(s.ImagePath)
		}
	}
	return msg, nil
}

func dialAndSend(ctx context.Context, cfg MailConfig, msg *mail.Msg) error {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.User),
		mail.WithPassword(cfg.Password),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
