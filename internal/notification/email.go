package notification

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"itemuploader/internal/proto"
)

// Mailer delivers one HTML email.
type Mailer interface {
	SendMail(toEmail, htmlContent, subject string) error
}

// EmailService sends mail through an SMTP relay with STARTTLS.
type EmailService struct {
	sender   string
	password string
	host     string
	port     string
}

// NewEmailService reads EMAIL_SENDER, EMAIL_APP_PASSWORD, SMTP_HOST and
// SMTP_PORT.
func NewEmailService() *EmailService {
	return &EmailService{
		sender:   viper.GetString("EMAIL_SENDER"),
		password: viper.GetString("EMAIL_APP_PASSWORD"),
		host:     viper.GetString("SMTP_HOST"),
		port:     viper.GetString("SMTP_PORT"),
	}
}

func (es *EmailService) SendMail(toEmail string, htmlContent, subject string) error {
	logrus.WithFields(logrus.Fields{
		"to":      toEmail,
		"subject": subject,
	}).Info("Attempting to send email")

	if es.password == "" {
		return fmt.Errorf("email password not configured")
	}

	headers := []struct{ k, v string }{
		{"From", es.sender},
		{"To", toEmail},
		{"Subject", subject},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=\"utf-8\""},
	}

	config := &tls.Config{ServerName: es.host}
	auth := smtp.PlainAuth("", es.sender, es.password, es.host)

	client, err := smtp.Dial(es.host + ":" + es.port)
	if err != nil {
		logrus.WithError(err).Error("Error dialing SMTP server")
		return err
	}
	defer client.Close()

	if err = client.StartTLS(config); err != nil {
		logrus.WithError(err).Error("Error starting TLS")
		return err
	}
	if err = client.Auth(auth); err != nil {
		logrus.WithError(err).Error("Error authenticating")
		return err
	}
	if err = client.Mail(es.sender); err != nil {
		logrus.WithError(err).Error("Error setting sender")
		return err
	}
	if err = client.Rcpt(toEmail); err != nil {
		logrus.WithError(err).Error("Error setting recipient")
		return err
	}

	w, err := client.Data()
	if err != nil {
		logrus.WithError(err).Error("Error creating data writer")
		return err
	}

	var msg bytes.Buffer
	for _, h := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", h.k, h.v))
	}
	msg.WriteString("\r\n")
	msg.WriteString(htmlContent)

	if _, err = w.Write(msg.Bytes()); err != nil {
		logrus.WithError(err).Error("Error writing email content")
		return err
	}
	if err = w.Close(); err != nil {
		logrus.WithError(err).Error("Error closing data writer")
		return err
	}

	logrus.WithField("to", toEmail).Info("Email sent successfully")
	return client.Quit()
}

var summaryTemplate = template.Must(template.New("runSummaryEmail").Parse(`
<html>
<body style="font-family: Arial, sans-serif; color: #333; line-height: 1.6;">
	<div style="max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #eee; border-radius: 10px;">
		<h2 style="color: {{if .Succeeded}}#4caf50{{else}}#e91e63{{end}}; margin-bottom: 20px;">Upload template {{.Status}}</h2>
		<p>Shop <b>{{.ShopCode}}</b>, run <code>{{.RunID}}</code>.</p>
		{{if .Error}}<p style="color: #e91e63;"><b>Error:</b> {{.Error}}</p>{{end}}
		<table style="border-collapse: collapse; width: 100%;">
			<tr style="background-color: #f9f9f9;"><th align="left">Step</th><th align="left">Result</th><th align="right">Time</th></tr>
			{{range .Steps}}
			<tr>
				<td>{{.Step}}. {{.Title}}</td>
				<td>{{if .Success}}OK{{else}}Failed{{if .Error}}: {{.Error}}{{end}}{{end}}</td>
				<td align="right">{{.Took}}</td>
			</tr>
			{{end}}
		</table>
		<p style="margin-top: 30px; font-size: 0.9em; color: #777;">
			This notification was sent because an email was given when the run started.
		</p>
	</div>
</body>
</html>`))

// RenderRunSummary builds the subject and HTML body for a finished run.
func RenderRunSummary(s proto.RunSummary) (string, string, error) {
	type stepView struct {
		proto.StepLine
		Took string
	}
	steps := make([]stepView, 0, len(s.Steps))
	for _, st := range s.Steps {
		took := (time.Duration(st.DurationMs) * time.Millisecond).Round(10 * time.Millisecond)
		steps = append(steps, stepView{StepLine: st, Took: took.String()})
	}

	data := struct {
		proto.RunSummary
		Succeeded bool
		Steps     []stepView
	}{
		RunSummary: s,
		Succeeded:  s.Error == "" && s.Status != "failed",
		Steps:      steps,
	}

	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to execute email template: %w", err)
	}
	subject := fmt.Sprintf("[%s] Upload template run %s", s.ShopCode, s.Status)
	return subject, buf.String(), nil
}
