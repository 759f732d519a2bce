package alert

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
)

// SMTPConfig is the outgoing mail server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier mails the alert to the site's alert addresses.
type EmailNotifier struct {
	cfg  SMTPConfig
	send SendFunc
}

type EmailOption func(*EmailNotifier)

// WithSendFunc replaces smtp.SendMail.
func WithSendFunc(fn SendFunc) EmailOption {
	return func(e *EmailNotifier) {
		e.send = fn
	}
}

func NewEmailNotifier(cfg SMTPConfig, opts ...EmailOption) *EmailNotifier {
	e := &EmailNotifier{
		cfg:  cfg,
		send: smtp.SendMail,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *EmailNotifier) Name() string { return "email" }

func (e *EmailNotifier) Notify(ctx context.Context, a Alert) error {
	if len(a.Destinations) == 0 {
		return ErrNoDestinations
	}

	msg, err := buildMessage(e.cfg.From, a)
	if err != nil {
		return fmt.Errorf("build alert email: %w", err)
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))

	// smtp.SendMail takes no context; abandon the wait when ctx ends.
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.send(addr, auth, e.cfg.From, a.Destinations, msg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("send alert email to %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMessage(from string, a Alert) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	text, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(text, "* Site monitor alert *\n\n%s\n", a.Summary())

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(htmlPart, "<h1>Site monitor alert</h1><p>%s</p>", html.EscapeString(a.Summary()))

	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", headerSafe(from))
	fmt.Fprintf(&msg, "To: %s\r\n", headerSafe(strings.Join(a.Destinations, ", ")))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", a.Subject()))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	msg.Write(body.Bytes())

	return msg.Bytes(), nil
}

var headerBreaks = strings.NewReplacer("\r", "", "\n", "")

// headerSafe strips line breaks so a value cannot start a new header.
func headerSafe(v string) string {
	return headerBreaks.Replace(v)
}
