package main

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/mail"
	"time"

	gomail "github.com/go-mail/mail/v2"
)

//go:embed templates
var templateFiles embed.FS

type mailer struct {
	dialer *gomail.Dialer
	sender string
}

func newMailer(host string, port int, username string, password string, sender string) *mailer {
	dialer := gomail.NewDialer(host, port, username, password)
	dialer.Timeout = 5 * time.Second
	return &mailer{
		dialer: dialer,
		sender: sender,
	}
}

type renderedMail struct {
	subject   string
	plainBody string
	htmlBody  string
}

func renderMail(templateFile string, data any) (renderedMail, error) {
	tmpl, err := template.New("email").ParseFS(templateFiles, "templates/"+templateFile)
	if err != nil {
		return renderedMail{}, err
	}
	var subject, plainBody, htmlBody bytes.Buffer
	if err := tmpl.ExecuteTemplate(&subject, "subject", data); err != nil {
		return renderedMail{}, err
	}
	if err := tmpl.ExecuteTemplate(&plainBody, "plainBody", data); err != nil {
		return renderedMail{}, err
	}
	if err := tmpl.ExecuteTemplate(&htmlBody, "htmlBody", data); err != nil {
		return renderedMail{}, err
	}
	return renderedMail{
		subject:   subject.String(),
		plainBody: plainBody.String(),
		htmlBody:  htmlBody.String(),
	}, nil
}

func (m *mailer) send(to string, templateFile string, data any) error {
	rendered, err := renderMail(templateFile, data)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("To", to)
	msg.SetHeader("From", m.sender)
	msg.SetHeader("Subject", rendered.subject)
	msg.SetBody("text/plain", rendered.plainBody)
	msg.AddAlternative("text/html", rendered.htmlBody)

	for i := 0; i < 3; i++ {
		err = m.dialer.DialAndSend(msg)
		if err == nil {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("sending mail to %s: %w", to, err)
}

type signInNotice struct {
	Identity  string
	Time      string
	UserAgent string
	TTL       time.Duration
}

// notifySignIn mails a sign-in notice in the background when a mailer is
// configured and the identity is an email address.
func (app *application) notifySignIn(identity, userAgent string) {
	if app.mailer == nil {
		return
	}
	if _, err := mail.ParseAddress(identity); err != nil {
		return
	}
	notice := signInNotice{
		Identity:  identity,
		Time:      app.now().UTC().Format(time.RFC1123),
		UserAgent: userAgent,
		TTL:       app.config.session.ttl,
	}
	app.background(func() {
		if err := app.mailer.send(identity, "signin.tmpl", notice); err != nil {
			app.logger.Error("sending sign-in notice", "error", err)
		}
	})
}

func (app *application) background(fn func()) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				app.logger.Error("background task panicked", "panic", fmt.Sprint(rec))
			}
		}()
		fn()
	}()
}
