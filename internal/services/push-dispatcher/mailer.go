package dispatcher

import (
	"context"
	"crypto/tls"
	"io"
	"strings"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/notification"
	"github.com/NordCoder/Campusbell/internal/obs"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	From       string
	SubjPrefix string
}

type Mailer struct {
	from       string
	subjPrefix string
	sender     gomail.Sender

	log *zap.Logger
}

var _ notification.EmailSender = (*Mailer)(nil)

// NewMailer dials the SMTP server for every message. Port 465 uses
// implicit TLS; other ports upgrade with STARTTLS when offered.
func NewMailer(cfg SMTPConfig) *Mailer {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return NewMailerWithSender(cfg, gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		s, err := d.Dial()
		if err != nil {
			return err
		}
		defer s.Close()
		return s.Send(from, to, msg)
	}))
}

func NewMailerWithSender(cfg SMTPConfig, sender gomail.Sender) *Mailer {
	return &Mailer{
		from:       cfg.From,
		subjPrefix: cfg.SubjPrefix,
		sender:     sender,
		log:        obs.Component(nil, "push-dispatcher.mailer"),
	}
}

func (m *Mailer) WithLogger(l *zap.Logger) *Mailer {
	if l == nil {
		return m
	}
	cp := *m
	cp.log = obs.Component(l, "push-dispatcher.mailer")
	return &cp
}

func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subj := strings.TrimSpace(m.subjPrefix + " " + subject)

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subj)
	msg.SetBody("text/plain", body)

	start := time.Now()
	log := obs.WithTrace(ctx, m.log).With(zap.String("to", to), zap.String("subject", subj))
	if err := gomail.Send(m.sender, msg); err != nil {
		log.Error("sendmail failed", zap.Error(err))
		return err
	}
	log.Info("email sent", zap.Duration("elapsed", time.Since(start)))
	return nil
}
