package application

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/user-directory/internal/domain/entity"
	mailtpl "github.com/oksasatya/user-directory/pkg/mailer/templates"
)

type sentMail struct {
	To, Subject, Text, HTML string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, text, html string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Text: text, HTML: html})
	return nil
}

func TestNotifierHandle(t *testing.T) {
	brand := mailtpl.Brand{AppName: "Directory", CompanyName: "Acme"}

	tests := []struct {
		name        string
		op          entity.Operation
		wantSubject string
		wantText    string
	}{
		{"create sends welcome", entity.OperationCreate, "Welcome to Directory", "was added to Directory"},
		{"delete sends farewell", entity.OperationDelete, "Your Directory entry was removed", "was removed from Directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMailer{}
			n := NewNotifier(m, brand, nil)

			err := n.Handle(context.Background(), entity.NewUserEvent("ann@x.com", tt.op, testNow))
			require.NoError(t, err)
			require.Len(t, m.sent, 1)
			assert.Equal(t, "ann@x.com", m.sent[0].To)
			assert.Equal(t, tt.wantSubject, m.sent[0].Subject)
			assert.Contains(t, m.sent[0].Text, tt.wantText)
			assert.Contains(t, m.sent[0].Text, "01 March 2026, 12:00")
			assert.Contains(t, m.sent[0].HTML, "ann@x.com")
		})
	}
}

func TestNotifierUnknownOperationIsUndeliverable(t *testing.T) {
	m := &fakeMailer{}
	n := NewNotifier(m, mailtpl.Brand{}, nil)

	err := n.Handle(context.Background(), entity.UserEvent{ID: "e1", Email: "ann@x.com", Operation: "RENAME"})
	assert.ErrorIs(t, err, ErrUndeliverable)
	assert.Empty(t, m.sent)
}

func TestNotifierSendFailureIsRetryable(t *testing.T) {
	cause := errors.New("mailgun 503")
	n := NewNotifier(&fakeMailer{err: cause}, mailtpl.Brand{}, nil)

	err := n.Handle(context.Background(), entity.NewUserEvent("ann@x.com", entity.OperationCreate, testNow))
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrUndeliverable)
}
