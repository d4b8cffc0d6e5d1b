package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"tierconf/internal/types"

	"go.uber.org/zap"
)

// EmailNotifier sends critical change alerts over SMTP
type EmailNotifier struct {
	config *EmailConfig
	logger *zap.Logger
}

// NewEmailNotifier creates new email notifier
func NewEmailNotifier(cfg *EmailConfig, logger *zap.Logger) (*EmailNotifier, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("email notifier is disabled")
	}

	return &EmailNotifier{
		config: cfg,
		logger: logger,
	}, nil
}

// NotifyCriticalChange sends a critical config change alert
func (n *EmailNotifier) NotifyCriticalChange(_ context.Context, event *types.ChangeEvent) error {
	subject := fmt.Sprintf("Critical Config Change - %s", event.Key)

	var b strings.Builder
	fmt.Fprintf(&b, "Configuration key %q changed.\r\n\r\n", event.Key)
	fmt.Fprintf(&b, "Scope:      %s\r\n", event.Scope.String())
	fmt.Fprintf(&b, "Changed by: %s\r\n", event.ChangedBy)
	fmt.Fprintf(&b, "Old value:  %v\r\n", event.OldValue)
	fmt.Fprintf(&b, "New value:  %v\r\n", event.NewValue)
	fmt.Fprintf(&b, "Timestamp:  %s\r\n", event.Timestamp.Format(time.RFC3339))

	return n.sendEmail(subject, b.String())
}

// Health checks SMTP reachability
func (n *EmailNotifier) Health(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", n.config.SMTPServer, n.config.SMTPPort)
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("smtp server unreachable: %w", err)
	}
	return conn.Close()
}

// sendEmail sends an email
func (n *EmailNotifier) sendEmail(subject, content string) error {
	auth := smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.SMTPServer)

	msg := buildEmailMessage(n.config.From, n.config.To, subject, content)

	var err error
	if n.config.UseTLS {
		err = n.sendTLSEmail(auth, msg)
	} else {
		addr := fmt.Sprintf("%s:%d", n.config.SMTPServer, n.config.SMTPPort)
		err = smtp.SendMail(addr, auth, n.config.From, n.config.To, msg)
	}

	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

// sendTLSEmail sends an email over an implicit TLS connection
func (n *EmailNotifier) sendTLSEmail(auth smtp.Auth, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", n.config.SMTPServer, n.config.SMTPPort)

	conn, err := tls.Dial("tcp", addr, &tls.Config{
		ServerName: n.config.SMTPServer,
	})
	if err != nil {
		return fmt.Errorf("failed to dial tls: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, n.config.SMTPServer)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth failed: %w", err)
	}
	if err := client.Mail(n.config.From); err != nil {
		return err
	}
	for _, to := range n.config.To {
		if err := client.Rcpt(to); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return client.Quit()
}

// buildEmailMessage composes the raw email message
func buildEmailMessage(from string, to []string, subject, content string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(content)
	return []byte(b.String())
}
