package templates

import (
	"time"
)

// Brand holds the sender identity rendered into every mail.
type Brand struct {
	AppName        string
	CompanyName    string
	CompanyAddress string
	LogoURL        string
	SupportURL     string
	PrivacyURL     string
	UnsubscribeURL string
}

// Option pattern
type Option func(*EmailData)

func WithTime(t time.Time) Option {
	return func(d *EmailData) {
		utc := t.UTC()
		d.TimeAt = utc
		d.Time = utc.Format("02 January 2006, 15:04")
	}
}

func newBase(b Brand, email, typ string) EmailData {
	return EmailData{
		Email:          email,
		Type:           typ,
		AppName:        b.AppName,
		CompanyName:    b.CompanyName,
		CompanyAddress: b.CompanyAddress,
		LogoURL:        b.LogoURL,
		SupportURL:     b.SupportURL,
		PrivacyURL:     b.PrivacyURL,
		UnsubscribeURL: b.UnsubscribeURL,
	}
}

func NewWelcomeData(b Brand, email string, opts ...Option) EmailData {
	d := newBase(b, email, Welcome)
	for _, o := range opts {
		o(&d)
	}
	return d
}

func NewFarewellData(b Brand, email string, opts ...Option) EmailData {
	d := newBase(b, email, Farewell)
	for _, o := range opts {
		o(&d)
	}
	return d
}
