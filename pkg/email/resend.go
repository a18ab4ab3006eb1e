package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/resendlabs/resend-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

// Receipt carries what a payment confirmation email shows.
type Receipt struct {
	Email       string
	FullName    string
	PlanID      string
	PaymentID   string
	OrderID     string
	Currency    string
	Amount      int64
	TaxAmount   int64
	TotalAmount int64
	// Credits is set for top-ups only.
	Credits    int
	InvoiceURL string
}

type EmailService struct {
	client    *resend.Client
	from      string
	fromName  string
	appURL    string
	templates *template.Template
	logger    *zap.Logger
}

func NewEmailService(apiKey, from, fromName, appURL string, logger *zap.Logger) (*EmailService, error) {
	tmpl, err := template.New("email").Funcs(template.FuncMap{
		"money": FormatAmount,
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}

	return &EmailService{
		client:    resend.NewClient(apiKey),
		from:      from,
		fromName:  fromName,
		appURL:    appURL,
		templates: tmpl,
		logger:    logger.Named("email"),
	}, nil
}

func (s *EmailService) SendPaymentReceipt(ctx context.Context, r Receipt) error {
	name, subject := "payment-receipt.html", "Your PostPilot subscription is active"
	if r.Credits > 0 {
		name, subject = "topup-receipt.html", "Your PostPilot credits have been added"
	}
	return s.send(ctx, r.Email, subject, name, s.templateData(r))
}

func (s *EmailService) templateData(r Receipt) map[string]interface{} {
	return map[string]interface{}{
		"Receipt":      r,
		"DashboardURL": s.appURL + "/dashboard",
		"Year":         time.Now().Year(),
	}
}

func (s *EmailService) send(ctx context.Context, to, subject, templateName string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	html, err := s.render(templateName, data)
	if err != nil {
		s.logger.Error("render email template", zap.String("template", templateName), zap.Error(err))
		return err
	}

	params := &resend.SendEmailRequest{
		From:    s.fromName + " <" + s.from + ">",
		To:      []string{to},
		Subject: subject,
		Html:    html,
	}

	resp, err := s.client.Emails.Send(params)
	if err != nil {
		s.logger.Error("send email", zap.String("template", templateName), zap.Error(err))
		return err
	}

	s.logger.Info("email sent", zap.String("template", templateName), zap.String("id", resp.Id))
	return nil
}

func (s *EmailService) render(name string, data interface{}) (string, error) {
	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, name, data); err != nil {
		return "", err
	}
	return body.String(), nil
}

// FormatAmount renders minor units as a major-unit amount, e.g. 117882 INR
// becomes "INR 1178.82".
func FormatAmount(minor int64, currency string) string {
	return currency + " " + decimal.New(minor, -2).StringFixed(2)
}
