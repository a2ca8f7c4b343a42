// Package notify mails the outcome of a registration attempt, with the filed
// documents attached on success.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"tmfiling-backend/internal/components/assert"
	"tmfiling-backend/internal/components/telemetry"
	"tmfiling-backend/internal/registration"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const report_mailer_send = "mailer.send"

var tracer = otel.Tracer("tmfiling/notify")

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

type Config struct {
	Smtp SmtpConfig `json:"smtp"`
	To   []string   `json:"to"`
	// OnlyFailures skips mails for successful attempts.
	OnlyFailures bool `json:"only_failures"`
}

func (c Config) Enabled() bool {
	return c.Smtp.Server != "" && len(c.To) > 0
}

// SendFunc delivers a composed mail, it is replaced in tests.
type SendFunc func(mail *email.Email) error

type Mailer struct {
	config Config
	send   SendFunc
	tel    telemetry.API
}

var _ registration.Recorder = (*Mailer)(nil)

func NewMailer(config Config, tel telemetry.API) *Mailer {
	assert.NotNil(tel)
	m := &Mailer{
		config: config,
		tel:    telemetry.NewScopedAPI("notify", tel),
	}
	m.send = m.smtpSend
	return m
}

// WithSender replaces the delivery, the mail is still composed as usual.
func (m *Mailer) WithSender(send SendFunc) *Mailer {
	m.send = send
	return m
}

func (m *Mailer) smtpSend(mail *email.Email) error {
	addr := fmt.Sprintf("%s:%d", m.config.Smtp.Server, m.config.Smtp.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", m.config.Smtp.EmailAddress, m.config.Smtp.Password, m.config.Smtp.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	return err
}

// Compose builds the mail for result without sending it.
func (m *Mailer) Compose(result registration.Result) (*email.Email, error) {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Trademark filing <%s>", m.config.Smtp.EmailAddress)
	mail.To = m.config.To

	body := strings.Builder{}
	fmt.Fprintf(&body, "Attempt: %s\n", result.AttemptID)
	fmt.Fprintf(&body, "Started: %s\n", result.StartedAt.Format(time.DateTime))
	fmt.Fprintf(&body, "Finished: %s\n", result.FinishedAt.Format(time.DateTime))

	switch {
	case result.Success != nil:
		s := result.Success
		mail.Subject = fmt.Sprintf("Trademark filed: %s", s.FileNumber)
		fmt.Fprintf(&body, "\nFile number: %s\n", s.FileNumber)
		fmt.Fprintf(&body, "Document reference: %s\n", s.DocumentRef)
		fmt.Fprintf(&body, "Transaction: %s\n", s.TransactionID)
		fmt.Fprintf(&body, "Fees: %d,%02d %s (%s)\n", s.Fees.TotalCents/100, s.Fees.TotalCents%100, s.Fees.Currency, s.Fees.Method)
		for _, doc := range s.Documents {
			_, err := mail.Attach(bytes.NewReader(doc.Data), doc.Name, doc.ContentType)
			if err != nil {
				return nil, fmt.Errorf("attach %s: %w", doc.Name, err)
			}
		}
	case result.Failure != nil:
		f := result.Failure
		mail.Subject = fmt.Sprintf("Trademark filing failed: %s", f.Code)
		fmt.Fprintf(&body, "\nCode: %s\n", f.Code)
		if f.Step != registration.STEP_NONE {
			fmt.Fprintf(&body, "Step: %d\n", f.Step)
		}
		fmt.Fprintf(&body, "Message: %s\n", f.Message)
	default:
		return nil, fmt.Errorf("attempt %s has no outcome", result.AttemptID)
	}

	if len(result.Warnings) > 0 {
		body.WriteString("\nWarnings:\n")
		for _, w := range result.Warnings {
			fmt.Fprintf(&body, "- %s\n", w)
		}
	}
	mail.Text = []byte(body.String())
	return mail, nil
}

// Record mails the result. It does nothing when the mailer is not
// configured.
func (m *Mailer) Record(ctx context.Context, result registration.Result) error {
	if !m.config.Enabled() {
		return nil
	}
	if m.config.OnlyFailures && result.Success != nil {
		return nil
	}

	_, span := tracer.Start(ctx, "notify.Record")
	defer span.End()

	mail, err := m.Compose(result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compose failed")
		return err
	}
	err = m.send(mail)
	if err != nil {
		m.tel.ReportBroken(report_mailer_send, err, result.AttemptID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}
