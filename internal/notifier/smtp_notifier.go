package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"soc-monitor/internal/config"
	"soc-monitor/internal/util"
)

// SMTPNotifier sends alert mail through a plain SMTP relay.
type SMTPNotifier struct {
	addr     string
	username string
	password string
	from     string
	to       string
}

func NewSMTPNotifier(cfg *config.AlertsConfig) *SMTPNotifier {
	return &SMTPNotifier{
		addr:     cfg.SMTPAddr,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		from:     cfg.EmailFrom,
		to:       cfg.EmailTo,
	}
}

func (n *SMTPNotifier) Send(ctx context.Context, subject, body string) error {
	if n.to == "" {
		util.Debug("No alert recipient configured, skipping notification")
		return nil
	}

	msg := BuildMessage(n.from, n.to, subject, body)

	var auth sasl.Client
	if n.username != "" {
		auth = sasl.NewPlainClient("", n.username, n.password)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(n.addr, auth, n.from, []string{n.to}, strings.NewReader(msg))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send failed: %w", err)
		}
		util.Info("Alert notification sent",
			zap.String("to", n.to),
			zap.String("subject", subject))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send cancelled: %w", ctx.Err())
	}
}

// BuildMessage assembles an RFC 5322 text message.
func BuildMessage(from, to, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return b.String()
}
