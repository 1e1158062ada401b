package sender

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// HeloName defaults to "localhost". It is used on plaintext sessions;
	// STARTTLS sessions greet with go-smtp's default name.
	HeloName string
	// RequireTLS upgrades every session with STARTTLS and fails the send
	// when the relay does not offer it.
	RequireTLS bool
	Timeout    time.Duration
}

// SMTPSender submits each message over its own connection to a relay.
type SMTPSender struct {
	cfg  SMTPConfig
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.HeloName == "" {
		cfg.HeloName = "localhost"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	return &SMTPSender{cfg: cfg, dial: func(ctx context.Context, addr string) (net.Conn, error) {
		return dialer.DialContext(ctx, "tcp", addr)
	}}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) (Result, error) {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return Result{}, Temporary(fmt.Sprintf("connection failed to %s", addr), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	}

	client, err := s.open(conn)
	if err != nil {
		conn.Close()
		return Result{}, err
	}
	defer client.Close()

	if s.cfg.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			return Result{}, categorize(err, "AUTH")
		}
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(msg.From, s.cfg.HeloName))
	body, err := buildMIME(msg, messageID, time.Now())
	if err != nil {
		return Result{}, Permanent("build message", err)
	}

	if err := client.Mail(msg.From, nil); err != nil {
		return Result{}, categorize(err, "MAIL FROM")
	}
	if err := client.Rcpt(msg.To, nil); err != nil {
		return Result{}, categorize(err, "RCPT TO "+msg.To)
	}
	wc, err := client.Data()
	if err != nil {
		return Result{}, categorize(err, "DATA")
	}
	if _, err := wc.Write(body); err != nil {
		wc.Close()
		return Result{}, Temporary("failed to write message data", err)
	}
	if err := wc.Close(); err != nil {
		return Result{}, categorize(err, "DATA close")
	}
	client.Quit()

	return Result{MessageID: messageID, Provider: "smtp"}, nil
}

// open greets the relay. With RequireTLS the session is upgraded with
// STARTTLS before anything else is sent; otherwise it stays plaintext.
func (s *SMTPSender) open(conn net.Conn) (*smtp.Client, error) {
	if s.cfg.RequireTLS {
		client, err := smtp.NewClientStartTLS(conn, &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12})
		if err != nil {
			return nil, categorize(err, "STARTTLS")
		}
		return client, nil
	}
	client := smtp.NewClient(conn)
	if err := client.Hello(s.cfg.HeloName); err != nil {
		client.Close()
		return nil, categorize(err, "HELO")
	}
	return client, nil
}

// categorize maps SMTP reply codes onto retry classes: 5xx is permanent,
// everything else (4xx, network) is temporary.
func categorize(err error, stage string) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &DeliveryError{
			Permanent: smtpErr.Code >= 500 && smtpErr.Code < 600,
			Code:      smtpErr.Code,
			Message:   fmt.Sprintf("%s failed: %s", stage, smtpErr.Message),
			Err:       err,
		}
	}
	return Temporary(fmt.Sprintf("%s failed", stage), err)
}

func domainOf(addr, fallback string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.Trim(addr[i+1:], "> ")
	}
	return fallback
}

// buildMIME renders a multipart/alternative message with text and HTML parts.
func buildMIME(msg Message, messageID string, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	headers := []string{
		"From: " + msg.From,
		"To: " + msg.To,
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"Date: " + now.Format(time.RFC1123Z),
		"Message-ID: " + messageID,
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", mw.Boundary()),
	}
	var out bytes.Buffer
	out.WriteString(strings.Join(headers, "\r\n"))
	out.WriteString("\r\n\r\n")

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.body)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	out.Write(buf.Bytes())
	return out.Bytes(), nil
}
