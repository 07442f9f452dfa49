package queue

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/iliyamo/linklink-server/internal/metrics"
)

// Sender delivers a rendered message through one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// SMTPSettings configures SMTPSender.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether enough is configured to talk to a server.
func (s SMTPSettings) Enabled() bool {
	return s.Host != "" && s.From != ""
}

// SMTPSender delivers mail through an SMTP relay. Calls go through a
// circuit breaker so a dead relay fails fast instead of stalling the
// consumer on every message.
type SMTPSender struct {
	settings SMTPSettings
	breaker  *gobreaker.CircuitBreaker[struct{}]
	logger   *slog.Logger

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a sender for the given relay.
func NewSMTPSender(settings SMTPSettings, logger *slog.Logger) *SMTPSender {
	const name = "smtp"
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return &SMTPSender{
		settings: settings,
		breaker:  gobreaker.NewCircuitBreaker[struct{}](st),
		logger:   logger,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTPSender) Name() string { return "smtp" }

// State returns the breaker state.
func (s *SMTPSender) State() gobreaker.State { return s.breaker.State() }

// Send delivers msg. While the breaker is open it returns
// gobreaker.ErrOpenState without contacting the relay.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.breaker.Execute(func() (struct{}, error) {
		addr := net.JoinHostPort(s.settings.Host, strconv.Itoa(s.settings.Port))
		var auth smtp.Auth
		if s.settings.Username != "" {
			auth = smtp.PlainAuth("", s.settings.Username, s.settings.Password, s.settings.Host)
		}
		return struct{}{}, s.sendMail(addr, auth, s.settings.From, []string{msg.To}, s.encode(msg))
	})
	if err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

func (s *SMTPSender) encode(msg *Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + s.settings.From + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}

// stateToFloat maps gobreaker states to gauge values.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// FileSender appends a one-line summary of each message to a log file.
// It stands in for SMTP when no relay is configured.
type FileSender struct {
	mu   sync.Mutex
	path string
}

// NewFileSender writes to dir/notifications.log.
func NewFileSender(dir string) *FileSender {
	return &FileSender{path: filepath.Join(dir, "notifications.log")}
}

func (f *FileSender) Name() string { return "file" }

// Path returns the log file location.
func (f *FileSender) Path() string { return f.path }

func (f *FileSender) Send(_ context.Context, msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	line := fmt.Sprintf("[%s] Notification | to=%s | subject=%q\n",
		time.Now().UTC().Format(time.RFC3339), msg.To, msg.Subject)
	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
