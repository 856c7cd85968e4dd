package templates

import (
	"bytes"
	"embed"
	"fmt"
	htmpl "html/template"
	"reflect"
	"strings"
	texttpl "text/template"
	"time"
)

//go:embed *.tmpl
var FS embed.FS

// Template names
const (
	Welcome  = "welcome"
	Farewell = "farewell"
)

// EmailData defines the fields available to directory notification templates.
type EmailData struct {
	Email string
	Type  string

	CompanyName    string
	CompanyAddress string
	AppName        string

	LogoURL        string
	SupportURL     string
	PrivacyURL     string
	UnsubscribeURL string

	Time   string
	TimeAt time.Time
}

// Mail is one rendered notification.
type Mail struct {
	Subject string
	Text    string
	HTML    string
}

// defaultFn supports pipe usage: {{ .Value | default "Fallback" }}
func defaultFn(fallback any, value any) any {
	switch x := value.(type) {
	case string:
		if strings.TrimSpace(x) == "" {
			return fallback
		}
		return x
	case nil:
		return fallback
	default:
		rv := reflect.ValueOf(value)
		if !rv.IsValid() || rv.IsZero() {
			return fallback
		}
		return value
	}
}

func funcs() map[string]any {
	return map[string]any{
		"formatTime": func(t time.Time, layout string) string { return t.Format(layout) },
		"upper":      strings.ToUpper,
		"default":    defaultFn,
	}
}

type set struct {
	subject *texttpl.Template
	text    *texttpl.Template
	html    *htmpl.Template
}

// sets is parsed once at package load; a broken template fails the binary at start.
var sets = map[string]set{
	Welcome:  mustParse(Welcome),
	Farewell: mustParse(Farewell),
}

func mustParse(name string) set {
	return set{
		subject: texttpl.Must(texttpl.New(name + ".subject.tmpl").Funcs(funcs()).ParseFS(FS, name+".subject.tmpl")),
		text:    texttpl.Must(texttpl.New(name + ".text.tmpl").Funcs(funcs()).ParseFS(FS, name+".text.tmpl")),
		html:    htmpl.Must(htmpl.New(name + ".html.tmpl").Funcs(funcs()).ParseFS(FS, name+".html.tmpl")),
	}
}

// Render executes the subject, text and html templates registered under name.
func Render(name string, data EmailData) (Mail, error) {
	s, ok := sets[name]
	if !ok {
		return Mail{}, fmt.Errorf("unknown mail template %q", name)
	}
	var sub, txt, html bytes.Buffer
	if err := s.subject.Execute(&sub, data); err != nil {
		return Mail{}, fmt.Errorf("exec %s subject: %w", name, err)
	}
	if err := s.text.Execute(&txt, data); err != nil {
		return Mail{}, fmt.Errorf("exec %s text: %w", name, err)
	}
	if err := s.html.Execute(&html, data); err != nil {
		return Mail{}, fmt.Errorf("exec %s html: %w", name, err)
	}
	return Mail{Subject: strings.TrimSpace(sub.String()), Text: txt.String(), HTML: html.String()}, nil
}
