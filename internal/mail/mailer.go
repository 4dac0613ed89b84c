package mail

import (
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/junseo/bidwatcher/internal/config"
)

// Sender delivers one email. Implementations must never block a sync
// decision: a failed send is reported as false, not an error.
type Sender interface {
	Send(to, subject, htmlBody, textBody string) bool
}

// SMTPSender sends multipart/alternative mail over STARTTLS.
type SMTPSender struct {
	cfg config.SMTPConfig
	log *zap.Logger
}

func NewSMTPSender(cfg config.SMTPConfig, log *zap.Logger) *SMTPSender {
	return &SMTPSender{cfg: cfg, log: log}
}

func (s *SMTPSender) Send(to, subject, htmlBody, textBody string) bool {
	if s.cfg.Host == "" {
		s.log.Debug("smtp not configured, dropping mail", zap.String("to", to))
		return false
	}

	msg := buildMessage(s.cfg.FromName, s.cfg.FromAddr, to, subject, htmlBody, textBody)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)

	if err := smtp.SendMail(addr, auth, s.cfg.FromAddr, []string{to}, msg); err != nil {
		s.log.Error("failed to send email", zap.String("to", to), zap.Error(err))
		return false
	}
	return true
}

const mimeBoundary = "bidwatcher-alt-boundary"

func buildMessage(fromName, fromAddr, to, subject, htmlBody, textBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", fromName, fromAddr)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mimeBoundary)

	if textBody != "" {
		fmt.Fprintf(&b, "--%s\r\n", mimeBoundary)
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(textBody)
		b.WriteString("\r\n")
	}

	fmt.Fprintf(&b, "--%s\r\n", mimeBoundary)
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(htmlBody)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", mimeBoundary)
	return []byte(b.String())
}
