// Delivery of a finished EPUB to a Kindle address over SMTP.
package main

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// smtpsPort is the implicit-TLS submission port. Other ports negotiate
// STARTTLS.
const smtpsPort = 465

type mailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       string
}

func newMailer(cfg emailConfig, to string) *mailer {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &mailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.Username,
		password: cfg.Password,
		from:     from,
		to:       to,
	}
}

// buildMessage writes a multipart message with a short text part and the
// file at attachmentPath attached under its base name.
func (m *mailer) buildMessage(w io.Writer, subject, attachmentPath string) error {
	data, err := os.ReadFile(attachmentPath)
	if err != nil {
		return fmt.Errorf("reading attachment: %w", err)
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(subject)
	h.SetAddressList("From", []*mail.Address{{Address: m.from}})
	h.SetAddressList("To", []*mail.Address{{Address: m.to}})

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return err
	}

	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	tw, err := mw.CreateSingleInline(th)
	if err != nil {
		return err
	}
	fmt.Fprintf(tw, "%s\n", subject)
	if err := tw.Close(); err != nil {
		return err
	}

	var ah mail.AttachmentHeader
	ah.SetContentType("application/epub+zip", nil)
	ah.SetFilename(filepath.Base(attachmentPath))
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return err
	}
	if _, err := aw.Write(data); err != nil {
		return err
	}
	if err := aw.Close(); err != nil {
		return err
	}
	return mw.Close()
}

// send mails the attachment. Port 465 uses implicit TLS, anything else
// upgrades with STARTTLS when the server offers it.
func (m *mailer) send(subject, attachmentPath string) error {
	var msg bytes.Buffer
	if err := m.buildMessage(&msg, subject, attachmentPath); err != nil {
		return fmt.Errorf("building message: %w", err)
	}

	addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))
	auth := sasl.NewPlainClient("", m.username, m.password)

	sendMail := smtp.SendMail
	if m.port == smtpsPort {
		sendMail = smtp.SendMailTLS
	}
	if err := sendMail(addr, auth, m.from, []string{m.to}, &msg); err != nil {
		return fmt.Errorf("sending mail to %s: %w", addr, err)
	}
	return nil
}
