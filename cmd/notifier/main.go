package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/user-directory/config"
	"github.com/oksasatya/user-directory/internal/application"
	"github.com/oksasatya/user-directory/internal/domain/entity"
	"github.com/oksasatya/user-directory/internal/infrastructure/messaging"
	"github.com/oksasatya/user-directory/pkg/helpers"
	"github.com/oksasatya/user-directory/pkg/mailer"
	mailtpl "github.com/oksasatya/user-directory/pkg/mailer/templates"
)

type consumer interface {
	Consume(ctx context.Context, handle messaging.Handler) error
}

func main() {
	os.Exit(run())
}

// run returns the exit code; deferred closes run before the process exits.
func run() int {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName+"-notifier", cfg.Env, cfg.LogLevel)

	var sender application.MailSender
	if cfg.MailSendEnabled {
		if cfg.MailgunDomain == "" || cfg.MailgunAPIKey == "" || cfg.MailgunSender == "" {
			logger.Error("Mailgun not configured")
			return 1
		}
		sender = mailer.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunSender)
	} else {
		logger.Warn("MAIL_SEND_ENABLED=false; notifications are logged, not sent")
		sender = mailer.LogSender{Logger: logger}
	}

	notifier := application.NewNotifier(sender, mailtpl.Brand{
		AppName:        cfg.AppName,
		CompanyName:    cfg.CompanyName,
		CompanyAddress: cfg.CompanyAddress,
		LogoURL:        cfg.LogoURL,
		SupportURL:     cfg.SupportURL,
		PrivacyURL:     cfg.PrivacyURL,
		UnsubscribeURL: cfg.UnsubscribeURL,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var src consumer
	switch cfg.EventBroker {
	case "rabbitmq":
		rc, err := messaging.NewRabbitConsumer(cfg.RabbitMQURL, cfg.RabbitMQEventsExchange, cfg.RabbitMQNotifyQueue, "#", 16)
		if err != nil {
			logger.Errorf("rabbitmq consumer: %v", err)
			return 1
		}
		defer rc.Close()
		src = rc
	case "redis":
		rdb, err := helpers.NewRedisClient(helpers.RedisOptions{URL: cfg.RedisURL, Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			logger.Errorf("redis: %v", err)
			return 1
		}
		defer func() { _ = rdb.Close() }()
		host, _ := os.Hostname()
		src = messaging.NewStreamSubscriber(rdb, messaging.StreamSubscriberConfig{
			Stream:   cfg.RedisEventsStream,
			Group:    "notifier",
			Consumer: host,
		}, logger)
	default:
		logger.Errorf("unknown EVENT_BROKER %q", cfg.EventBroker)
		return 1
	}

	logger.WithField("broker", cfg.EventBroker).Info("notifier listening")
	err := src.Consume(ctx, handler(notifier, logger))
	if err != nil && !errors.Is(err, context.Canceled) {
		helpers.LogError(logger, "notifier stopped", err, nil)
		return 1
	}
	logger.Info("notifier exited")
	return 0
}

// handler maps undeliverable events to drops so the broker does not redeliver them.
func handler(n *application.Notifier, logger *logrus.Logger) messaging.Handler {
	return func(ctx context.Context, ev entity.UserEvent) error {
		err := n.Handle(ctx, ev)
		if err == nil {
			return nil
		}
		log := logger.WithError(err).WithFields(logrus.Fields{"event_id": ev.ID, "op": ev.Operation})
		if errors.Is(err, application.ErrUndeliverable) {
			log.Error("notification dropped")
			return messaging.Drop(err)
		}
		log.Warn("notification failed, will retry")
		return err
	}
}
