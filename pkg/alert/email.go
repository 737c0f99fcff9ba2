package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/resend/resend-go/v3"

	"github.com/serofero/server/models"
)

// sendFunc delivers one prepared e-mail.
type sendFunc func(ctx context.Context, req *resend.SendEmailRequest) error

type emailSink struct {
	send sendFunc
	from string
	to   []string
}

// NewEmailSink e-mails each event to the operator addresses through Resend.
// from must belong to a domain verified in Resend.
func NewEmailSink(apiKey, from string, to []string) Sink {
	client := resend.NewClient(apiKey)
	return newEmailSink(func(ctx context.Context, req *resend.SendEmailRequest) error {
		_, err := client.Emails.SendWithContext(ctx, req)
		return err
	}, from, to)
}

func newEmailSink(send sendFunc, from string, to []string) *emailSink {
	return &emailSink{send: send, from: from, to: to}
}

func (s *emailSink) Send(ctx context.Context, ev models.SecurityEvent) error {
	details, err := json.MarshalIndent(ev.Details, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal alert details: %w", err)
	}

	var body strings.Builder
	body.WriteString("<!DOCTYPE html><html><body style=\"font-family:Arial,Helvetica,sans-serif;\">")
	fmt.Fprintf(&body, "<h2>Security event: %s</h2>", html.EscapeString(ev.Type))
	fmt.Fprintf(&body, "<p>Recorded at %s</p>", ev.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&body, "<pre>%s</pre>", html.EscapeString(string(details)))
	body.WriteString("</body></html>")

	req := &resend.SendEmailRequest{
		From:    fmt.Sprintf("serofero alerts <%s>", s.from),
		To:      s.to,
		Subject: "[serofero] security alert: " + ev.Type,
		Html:    body.String(),
	}

	if err := s.send(ctx, req); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}
