package main

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

func TestNewMailer(t *testing.T) {
	m := newMailer(emailConfig{SMTPHost: "h", SMTPPort: 587, Username: "user@example.com"}, "me@kindle.com")
	if m.from != "user@example.com" {
		t.Errorf("from = %q, want the username", m.from)
	}
	m = newMailer(emailConfig{Username: "user", From: "books@example.com"}, "me@kindle.com")
	if m.from != "books@example.com" || m.to != "me@kindle.com" {
		t.Errorf("mailer = %+v", m)
	}
}

func TestMailer_BuildMessage(t *testing.T) {
	payload := []byte("PK\x03\x04 not really an epub")
	path := filepath.Join(t.TempDir(), "My_Article.epub")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	m := newMailer(emailConfig{SMTPHost: "h", SMTPPort: 587, Username: "me@example.com"}, "me@kindle.com")
	var buf bytes.Buffer
	if err := m.buildMessage(&buf, "My Article", path); err != nil {
		t.Fatal(err)
	}

	mr, err := mail.CreateReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if subject, _ := mr.Header.Subject(); subject != "My Article" {
		t.Errorf("subject = %q", subject)
	}
	if to, _ := mr.Header.AddressList("To"); len(to) != 1 || to[0].Address != "me@kindle.com" {
		t.Errorf("to = %v", to)
	}
	if from, _ := mr.Header.AddressList("From"); len(from) != 1 || from[0].Address != "me@example.com" {
		t.Errorf("from = %v", from)
	}

	var gotText, gotAttachment bool
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		body, err := io.ReadAll(p.Body)
		if err != nil {
			t.Fatal(err)
		}
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			gotText = strings.Contains(string(body), "My Article")
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			ct, _, _ := h.ContentType()
			if name != "My_Article.epub" || ct != "application/epub+zip" {
				t.Errorf("attachment %q %q", name, ct)
			}
			gotAttachment = bytes.Equal(body, payload)
		}
	}
	if !gotText {
		t.Error("missing text part")
	}
	if !gotAttachment {
		t.Error("attachment missing or corrupted")
	}
}

func TestMailer_BuildMessage_MissingFile(t *testing.T) {
	m := newMailer(emailConfig{Username: "u"}, "k")
	if err := m.buildMessage(io.Discard, "s", filepath.Join(t.TempDir(), "none.epub")); err == nil {
		t.Error("expected error for missing attachment")
	}
}

func TestMailer_SendConnectionError(t *testing.T) {
	m := newMailer(emailConfig{SMTPHost: "127.0.0.1", SMTPPort: 1, Username: "u", Password: "p"}, "k@kindle.com")
	path := filepath.Join(t.TempDir(), "a.epub")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.send("s", path); err == nil {
		t.Error("expected connection error")
	}
}

// smtpRecorder is an in-process SMTP backend that keeps the last message.
type smtpRecorder struct {
	mu       sync.Mutex
	username string
	password string
	from     string
	to       []string
	data     []byte
}

func (b *smtpRecorder) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &smtpSession{b: b}, nil
}

type smtpSession struct {
	b      *smtpRecorder
	authed bool
}

func (s *smtpSession) AuthMechanisms() []string { return []string{sasl.Plain} }

func (s *smtpSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != s.b.username || password != s.b.password {
			return errors.New("invalid credentials")
		}
		s.authed = true
		return nil
	}), nil
}

func (s *smtpSession) Mail(from string, opts *smtp.MailOptions) error {
	if !s.authed {
		return smtp.ErrAuthRequired
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.from = from
	return nil
}

func (s *smtpSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.to = append(s.b.to, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.data = data
	return nil
}

func (s *smtpSession) Reset() {}

func (s *smtpSession) Logout() error { return nil }

// startSMTP serves rec on a loopback port and returns host and port.
func startSMTP(t *testing.T, rec *smtpRecorder) (string, int) {
	t.Helper()
	srv := smtp.NewServer(rec)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	host, port, _ := net.SplitHostPort(l.Addr().String())
	p, _ := strconv.Atoi(port)
	return host, p
}

func TestMailer_Send(t *testing.T) {
	rec := &smtpRecorder{username: "reader@example.com", password: "hunter2"}
	host, port := startSMTP(t, rec)

	path := filepath.Join(t.TempDir(), "Sent.epub")
	if err := os.WriteFile(path, []byte("epub bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := newMailer(emailConfig{SMTPHost: host, SMTPPort: port, Username: "reader@example.com", Password: "hunter2"}, "me@kindle.com")
	if err := m.send("Sent", path); err != nil {
		t.Fatal(err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.from != "reader@example.com" || len(rec.to) != 1 || rec.to[0] != "me@kindle.com" {
		t.Errorf("envelope from=%q to=%v", rec.from, rec.to)
	}
	if !bytes.Contains(rec.data, []byte("Sent.epub")) || !bytes.Contains(rec.data, []byte("application/epub+zip")) {
		t.Errorf("message is missing the attachment:\n%s", rec.data)
	}
}

func TestMailer_SendBadCredentials(t *testing.T) {
	rec := &smtpRecorder{username: "reader@example.com", password: "right"}
	host, port := startSMTP(t, rec)

	path := filepath.Join(t.TempDir(), "a.epub")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := newMailer(emailConfig{SMTPHost: host, SMTPPort: port, Username: "reader@example.com", Password: "wrong"}, "k@kindle.com")
	if err := m.send("s", path); err == nil {
		t.Fatal("expected authentication failure")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.data != nil {
		t.Error("no message should be delivered without authentication")
	}
}
