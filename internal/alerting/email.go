package alerting

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"
)

// TLS modes for SMTP submission.
const (
	TLSAuto     = "auto"
	TLSImplicit = "implicit"
	TLSStartTLS = "starttls"
	TLSNone     = "none"
)

// EmailOptions configures SMTP delivery.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	// TLS is one of auto, implicit, starttls or none. auto picks implicit TLS
	// on port 465 and opportunistic STARTTLS elsewhere.
	TLS     string
	Timeout time.Duration
	// FallbackDir receives the report body when delivery fails.
	FallbackDir string
	Now         func() time.Time
}

// EmailNotifier submits reports over SMTP.
type EmailNotifier struct {
	opts   EmailOptions
	logger zerolog.Logger
}

// NewEmailNotifier 构造邮件告警器。
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) *EmailNotifier {
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.TLS == "" {
		opts.TLS = TLSAuto
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &EmailNotifier{
		opts:   opts,
		logger: logger.With().Str("component", "alert_email").Logger(),
	}
}

// Notify builds the MIME message and submits it. On failure the body is
// written to FallbackDir when configured.
func (n *EmailNotifier) Notify(ctx context.Context, msg Message) error {
	raw, err := n.BuildMessage(msg)
	if err != nil {
		return notifyErr("email", err)
	}

	if err := n.send(ctx, raw); err != nil {
		if path, saveErr := n.saveFallback(msg); saveErr != nil {
			n.logger.Error().Err(saveErr).Msg("save fallback report failed")
		} else if path != "" {
			n.logger.Warn().Str("path", path).Msg("email failed, report saved locally")
		}
		return notifyErr("email", err)
	}

	n.logger.Info().
		Strs("to", n.opts.To).
		Int("alerts", msg.Report.Count).
		Msg("告警已发送 (Email)")
	return nil
}

// BuildMessage renders msg as an RFC 5322 message.
func (n *EmailNotifier) BuildMessage(msg Message) ([]byte, error) {
	from, err := mail.ParseAddress(n.opts.From)
	if err != nil {
		return nil, fmt.Errorf("parse from address: %w", err)
	}
	to, err := n.recipients()
	if err != nil {
		return nil, err
	}

	var h mail.Header
	h.SetDate(n.opts.Now())
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	contentType := msg.Report.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, msg.Report.Body); err != nil {
		return nil, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (n *EmailNotifier) recipients() ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(n.opts.To))
	for _, raw := range n.opts.To {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		addr, err := mail.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("parse recipient %q: %w", raw, err)
		}
		out = append(out, addr)
	}
	if len(out) == 0 {
		return nil, errors.New("no recipients configured")
	}
	return out, nil
}

func (n *EmailNotifier) send(ctx context.Context, raw []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
	defer cancel()

	host := n.opts.Host
	addr := net.JoinHostPort(host, strconv.Itoa(n.opts.Port))
	mode := n.opts.TLS
	if mode == TLSAuto && n.opts.Port == 465 {
		mode = TLSImplicit
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if mode == TLSImplicit {
		conn = tls.Client(conn, &tls.Config{ServerName: host})
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer client.Close()

	if mode == TLSAuto || mode == TLSStartTLS {
		ok, _ := client.Extension("STARTTLS")
		switch {
		case ok:
			if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return fmt.Errorf("start tls: %w", err)
			}
		case mode == TLSStartTLS:
			return errors.New("server does not advertise STARTTLS")
		}
	}

	if n.opts.Username != "" {
		auth := smtp.PlainAuth("", n.opts.Username, n.opts.Password, host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	from, err := mail.ParseAddress(n.opts.From)
	if err != nil {
		return fmt.Errorf("parse from address: %w", err)
	}
	if err := client.Mail(from.Address); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	to, err := n.recipients()
	if err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt.Address); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt.Address, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("start data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return client.Quit()
}

func (n *EmailNotifier) saveFallback(msg Message) (string, error) {
	if n.opts.FallbackDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(n.opts.FallbackDir, 0o755); err != nil {
		return "", fmt.Errorf("create fallback dir: %w", err)
	}

	ext := msg.Report.Style.Extension()
	name := fmt.Sprintf("ath_alert_%s.%s", n.opts.Now().Format("20060102_150405"), ext)
	path := filepath.Join(n.opts.FallbackDir, name)
	if err := os.WriteFile(path, []byte(msg.Report.Body), 0o644); err != nil {
		return "", fmt.Errorf("write fallback report: %w", err)
	}
	return path, nil
}

var _ Notifier = (*EmailNotifier)(nil)
