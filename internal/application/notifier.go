package application

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/user-directory/internal/domain/entity"
	mailtpl "github.com/oksasatya/user-directory/pkg/mailer/templates"
)

// MailSender delivers one rendered message.
type MailSender interface {
	Send(ctx context.Context, to, subject, text, html string) error
}

// Notifier is a downstream consumer of user events: it mails the subject
// address on CREATE and DELETE.
type Notifier struct {
	Mailer MailSender
	Brand  mailtpl.Brand
	Logger *logrus.Logger
}

func NewNotifier(m MailSender, brand mailtpl.Brand, logger *logrus.Logger) *Notifier {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Notifier{Mailer: m, Brand: brand, Logger: logger}
}

// Handle renders and sends the mail for ev. Unknown operations and render
// failures wrap ErrUndeliverable so the consumer drops the message instead of
// requeueing it.
func (n *Notifier) Handle(ctx context.Context, ev entity.UserEvent) error {
	var (
		name string
		data mailtpl.EmailData
	)
	switch ev.Operation {
	case entity.OperationCreate:
		name = mailtpl.Welcome
		data = mailtpl.NewWelcomeData(n.Brand, ev.Email, mailtpl.WithTime(ev.OccurredAt))
	case entity.OperationDelete:
		name = mailtpl.Farewell
		data = mailtpl.NewFarewellData(n.Brand, ev.Email, mailtpl.WithTime(ev.OccurredAt))
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrUndeliverable, ev.Operation)
	}

	mail, err := mailtpl.Render(name, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUndeliverable, err)
	}
	if err := n.Mailer.Send(ctx, ev.Email, mail.Subject, mail.Text, mail.HTML); err != nil {
		return fmt.Errorf("send %s mail: %w", name, err)
	}
	n.Logger.WithFields(logrus.Fields{"event_id": ev.ID, "email": ev.Email, "template": name}).Info("notification sent")
	return nil
}
