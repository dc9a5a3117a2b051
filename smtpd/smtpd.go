// Package smtpd receives test messages over SMTP, typically handed over by
// a local MTA content filter, and turns each into a stored report.
package smtpd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/synqronlabs/xray"
	"github.com/synqronlabs/xray/storage"
	"github.com/synqronlabs/xray/utils"
)

// ErrTemporary is answered when no report could be produced. The sending
// MTA keeps the message queued and retries.
var ErrTemporary = &smtp.SMTPError{
	Code:         451,
	EnhancedCode: smtp.EnhancedCode{4, 3, 0},
	Message:      "Temporary server error",
}

// DefaultSaveTimeout is used when Backend.SaveTimeout is zero.
const DefaultSaveTimeout = 30 * time.Second

// Generator produces the report of a message.
type Generator interface {
	Generate(ctx context.Context, env xray.Envelope) (*xray.Report, error)
}

// Backend creates one session per connection.
type Backend struct {
	Tester Generator
	Store  storage.Store

	// Timeout bounds the report generation for one message. Zero means
	// no limit.
	Timeout time.Duration

	// SaveTimeout bounds storing a report. It starts once the report is
	// generated. Zero means DefaultSaveTimeout.
	SaveTimeout time.Duration

	Logger *slog.Logger
}

func (b *Backend) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Backend) saveTimeout() time.Duration {
	if b.SaveTimeout > 0 {
		return b.SaveTimeout
	}
	return DefaultSaveTimeout
}

func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	s := &session{backend: b, logger: b.logger()}
	if c != nil {
		attrs := []any{slog.String("helo", c.Hostname())}
		if ip, err := utils.RemoteIP(c.Conn().RemoteAddr()); err == nil {
			attrs = append(attrs, slog.String("peer", ip.String()))
		}
		s.logger = s.logger.With(attrs...)
	}
	return s, nil
}

type session struct {
	backend *Backend
	logger  *slog.Logger

	from string
	to   []string
}

func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}

	s.logger.Info("processing message", slog.String("from", s.from))

	ctx := context.Background()
	if s.backend.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.backend.Timeout)
		defer cancel()
	}

	rep, err := s.backend.Tester.Generate(ctx, xray.Envelope{
		MailFrom:   s.from,
		Recipients: slices.Clone(s.to),
		Data:       buf.Bytes(),
	})
	if err != nil {
		if !xray.IsFatal(err) && !errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("generating report", slog.Any("error", err))
		}
		return ErrTemporary
	}

	docs, err := rep.Documents()
	if err != nil {
		s.logger.Error("encoding report", slog.Any("error", err))
		return ErrTemporary
	}

	// Generation may have used up the whole budget of ctx.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.backend.saveTimeout())
	defer cancel()

	// The report exists; a storage failure does not make the sender retry.
	id, err := s.backend.Store.Save(saveCtx, rep.SentTo, docs)
	if err != nil {
		s.logger.Error("saving report",
			slog.String("to", rep.SentTo),
			slog.Any("error", err),
		)
		return nil
	}
	s.logger.Info("report saved",
		slog.String("id", id),
		slog.String("to", rep.SentTo),
		slog.Float64("score", rep.Score),
	)
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

// Config configures the listener.
type Config struct {
	Addr            string
	Domain          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	MaxRecipients   int
}

// NewServer returns a server delivering to b.
func NewServer(b *Backend, cfg Config) *smtp.Server {
	s := smtp.NewServer(b)
	s.Addr = cfg.Addr
	s.Domain = cfg.Domain
	s.ReadTimeout = cfg.ReadTimeout
	s.WriteTimeout = cfg.WriteTimeout
	s.MaxMessageBytes = cfg.MaxMessageBytes
	s.MaxRecipients = cfg.MaxRecipients
	s.ErrorLog = slog.NewLogLogger(b.logger().Handler(), slog.LevelWarn)
	return s
}
