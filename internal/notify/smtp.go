package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

const senderName = "Blood Bank App"

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
}

type sendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

type SMTPMailer struct {
	addr     string
	host     string
	user     string
	auth     smtp.Auth
	sendMail sendMailFunc
	now      func() time.Time
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(cfg.User) == "" {
		return nil, fmt.Errorf("smtp user is required")
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}

	return &SMTPMailer{
		addr:     net.JoinHostPort(host, fmt.Sprint(port)),
		host:     host,
		user:     cfg.User,
		auth:     smtp.PlainAuth("", cfg.User, cfg.Password, host),
		sendMail: smtp.SendMail,
		now:      time.Now,
	}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := strings.TrimSpace(msg.To)
	if to == "" || strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("invalid email recipient")
	}

	if err := m.sendMail(m.addr, m.auth, m.user, []string{to}, m.compose(to, msg)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (m *SMTPMailer) compose(to string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %q <%s>\r\n", senderName, m.user)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", strings.ReplaceAll(msg.Subject, "\r\n", " "))
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
