package mail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.ErrorContains(t, err, "host is required")

	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, mailer)
}

func TestSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{
		To:      []string{"guardian@example.com"},
		Subject: "Invitation",
		Body:    "Hello",
	})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestDefaultTimeout(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "no-reply@example.com",
	})
	require.NoError(t, err)

	sm, ok := mailer.(*smtpMailer)
	require.True(t, ok)
	require.Equal(t, 10*time.Second, sm.cfg.Timeout)
}

func TestSendValidatesAddresses(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "no-reply@example.com",
	})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{To: []string{"  ", ""}})
	require.ErrorContains(t, err, "at least one recipient")

	err = mailer.Send(context.Background(), Message{
		From: "not-an-address",
		To:   []string{"guardian@example.com"},
	})
	require.ErrorContains(t, err, "invalid from address")

	err = mailer.Send(context.Background(), Message{
		To: []string{"guardian@example.com", "nope"},
	})
	require.ErrorContains(t, err, "invalid recipient address")
}

func TestFormatMessageSanitisesSubject(t *testing.T) {
	content := formatMessage("from@example.com", []string{"to@example.com"}, "Line\r\nBreak", "Body")
	require.Contains(t, content, "From: from@example.com")
	require.Contains(t, content, "Subject: Line  Break")
	require.Contains(t, content, "Body")
}

func TestFormatMessageSeparatesHeadersFromBody(t *testing.T) {
	content := formatMessage("from@example.com", []string{"to@example.com"}, "Invitation", "First line")
	require.Contains(t, content, "charset=UTF-8\r\n\r\nFirst line")
}

func TestUniqueAddresses(t *testing.T) {
	result := uniqueAddresses([]string{"a@example.com", "b@example.com", " a@example.com ", ""})
	require.Equal(t, []string{"a@example.com", "b@example.com"}, result)
}
