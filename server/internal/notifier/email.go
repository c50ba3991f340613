package notifier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SendMailFunc sends one message. It must give up when ctx is done.
type SendMailFunc func(ctx context.Context, addr string, a sasl.Client, from string, to []string, r io.Reader) error

// Email delivers over SMTP. The recipient is the destination address.
type Email struct {
	send SendMailFunc
}

// NewEmail returns an Email notifier using go-smtp with STARTTLS.
func NewEmail() *Email { return &Email{send: sendMail} }

// NewEmailWithSender returns an Email notifier with an injected sender.
func NewEmailWithSender(send SendMailFunc) *Email { return &Email{send: send} }

func (e *Email) Send(ctx context.Context, d Delivery) error {
	cfg := d.Channel.SMTP
	if cfg == nil {
		return Permanentf("channel %s: no smtp config", d.Channel.Name)
	}
	if d.Recipient == "" {
		return Permanentf("channel %s: email needs a recipient", d.Channel.Name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth sasl.Client
	if cfg.Username != "" {
		auth = sasl.NewPlainClient("", cfg.Username, cfg.Password)
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	msg := buildMessage(cfg.From, d)

	err := e.send(ctx, addr, auth, cfg.From, []string{d.Recipient}, strings.NewReader(msg))
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("smtp: %w", ctxErr)
	}
	var se *smtp.SMTPError
	if errors.As(err, &se) && se.Code >= 500 {
		return Permanent(fmt.Errorf("smtp: %w", err))
	}
	return fmt.Errorf("smtp: %w", err)
}

// sendMail is smtp.SendMail bound to ctx: the dial honours ctx, command
// timeouts are capped by its deadline and cancelling it closes the
// connection.
func sendMail(ctx context.Context, addr string, a sasl.Client, from string, to []string, r io.Reader) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClientStartTLS(conn, &tls.Config{ServerName: host})
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		c.CommandTimeout = left
		c.SubmissionTimeout = left
	}

	if a != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp: server doesn't support AUTH")
		}
		if err := c.Auth(a); err != nil {
			return err
		}
	}
	if err := c.SendMail(from, to, r); err != nil {
		return err
	}
	return c.Quit()
}

func buildMessage(from string, d Delivery) string {
	n := d.Notification
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", d.Recipient)
	fmt.Fprintf(&b, "Subject: %s %s\r\n", severityLabel(n.Severity), n.Title)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@alertengine>\r\n", strings.ReplaceAll(d.IdempotencyKey, ":", "."))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "%s\r\n\r\n", n.Message)
	fmt.Fprintf(&b, "Rule:      %s\r\n", n.RuleName)
	fmt.Fprintf(&b, "Observed:  %g\r\n", n.Observed)
	fmt.Fprintf(&b, "Threshold: %g\r\n", n.Threshold)
	fmt.Fprintf(&b, "Level:     %d\r\n", n.Level)
	fmt.Fprintf(&b, "Alert ID:  %s\r\n", n.AlertID)
	return b.String()
}
