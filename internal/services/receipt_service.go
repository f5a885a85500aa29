package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"text/template"
	"time"

	"shulpad/internal/caching"
	"shulpad/internal/models"
	"shulpad/internal/repositories"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"
)

// Receipt rate limit: sends per organization per window.
const (
	receiptRateLimit  = 10
	receiptRateWindow = 60 * time.Second
	receiptBucket     = "receipts"
)

// ErrReceiptRateLimited is returned when an organization exceeds its
// send budget for the current window.
type ErrReceiptRateLimited struct {
	RetryAfter time.Duration
}

func (e *ErrReceiptRateLimited) Error() string {
	return fmt.Sprintf("receipt rate limit exceeded, retry after %ds", int(e.RetryAfter.Seconds()))
}

// SendReceiptParams is the validated input for one receipt send.
type SendReceiptParams struct {
	OrganizationID   string
	OrganizationName string
	DonorEmail       string
	DonorName        string
	AmountCents      int64
	DonationDate     time.Time
	TaxID            string
}

// ReceiptResult always carries a receipt id, even when delivery failed,
// so the caller can look the attempt up later.
type ReceiptResult struct {
	ReceiptID string `json:"receipt_id"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// ReceiptStatus is a receipt row plus, when the PDF was archived, a
// short-lived download link for it.
type ReceiptStatus struct {
	Receipt *models.ReceiptLog `json:"receipt"`
	PDFURL  string             `json:"pdf_url,omitempty"`
}

type ReceiptService interface {
	Send(ctx context.Context, params *SendReceiptParams) (*ReceiptResult, error)
	GetStatus(ctx context.Context, receiptID string) (*ReceiptStatus, error)
}

type receiptService struct {
	receiptRepo repositories.ReceiptLogRepository
	emailSvc    EmailService
	minioSvc    MinioService
	cacheSvc    caching.CacheService
	bucketName  string
}

func NewReceiptService(
	receiptRepo repositories.ReceiptLogRepository,
	emailSvc EmailService,
	minioSvc MinioService,
	cacheSvc caching.CacheService,
	bucketName string,
) ReceiptService {
	return &receiptService{
		receiptRepo: receiptRepo,
		emailSvc:    emailSvc,
		minioSvc:    minioSvc,
		cacheSvc:    cacheSvc,
		bucketName:  bucketName,
	}
}

var receiptTextTemplate = template.Must(template.New("receipt_text").Parse(
	`Donation Receipt

Thank you for your donation to {{.OrganizationName}}.

Donor: {{.DonorName}}
Amount: ${{.AmountDollars}}
Date: {{.Date}}
{{if .TaxID}}Tax ID: {{.TaxID}}
{{end}}
No goods or services were provided in exchange for this contribution.
Please retain this receipt for your tax records.
`))

var receiptHTMLTemplate = template.Must(template.New("receipt_html").Parse(
	`<html><body>
<h2>Donation Receipt</h2>
<p>Thank you for your donation to <strong>{{.OrganizationName}}</strong>.</p>
<table>
<tr><td>Donor</td><td>{{.DonorName}}</td></tr>
<tr><td>Amount</td><td>${{.AmountDollars}}</td></tr>
<tr><td>Date</td><td>{{.Date}}</td></tr>
{{if .TaxID}}<tr><td>Tax ID</td><td>{{.TaxID}}</td></tr>{{end}}
</table>
<p>No goods or services were provided in exchange for this contribution.
Please retain this receipt for your tax records.</p>
</body></html>
`))

type receiptTemplateData struct {
	OrganizationName string
	DonorName        string
	AmountDollars    string
	Date             string
	TaxID            string
}

func (s *receiptService) Send(ctx context.Context, params *SendReceiptParams) (*ReceiptResult, error) {
	limited, retryAfter, err := s.cacheSvc.IsRateLimited(ctx, receiptBucket+":"+params.OrganizationID, receiptRateLimit, receiptRateWindow)
	if err != nil {
		// A broken limiter should not take down receipt sending; this
		// matches the best-effort contract of the original in-process
		// counter.
		log.Printf("WARN: receipt rate limiter unavailable: %v", err)
	} else if limited {
		return nil, &ErrReceiptRateLimited{RetryAfter: retryAfter}
	}

	receipt := &models.ReceiptLog{
		ID:             uuid.New(),
		OrganizationID: params.OrganizationID,
		DonorEmail:     params.DonorEmail,
		AmountCents:    params.AmountCents,
		DeliveryStatus: models.DeliveryStatusPending,
	}
	if err := s.receiptRepo.Create(ctx, receipt); err != nil {
		log.Printf("WARN: failed to log receipt attempt %s: %v", receipt.ID, err)
	}
	receiptID := receipt.ID.String()

	data := receiptTemplateData{
		OrganizationName: params.OrganizationName,
		DonorName:        params.DonorName,
		AmountDollars:    fmt.Sprintf("%.2f", float64(params.AmountCents)/100.0),
		Date:             params.DonationDate.Format("January 2, 2006"),
		TaxID:            params.TaxID,
	}

	textBody, err := renderTemplate(receiptTextTemplate, data)
	if err != nil {
		return nil, fmt.Errorf("render text receipt: %w", err)
	}
	htmlBody, err := renderTemplate(receiptHTMLTemplate, data)
	if err != nil {
		return nil, fmt.Errorf("render html receipt: %w", err)
	}
	pdfBytes, err := renderReceiptPDF(receiptID, data)
	if err != nil {
		return nil, fmt.Errorf("render pdf receipt: %w", err)
	}

	var pdfObjectKey *string
	objectName := fmt.Sprintf("%s/%s.pdf", params.OrganizationID, receiptID)
	if err := s.minioSvc.UploadPDF(ctx, s.bucketName, objectName, bytes.NewReader(pdfBytes), int64(len(pdfBytes))); err != nil {
		log.Printf("WARN: failed to archive receipt PDF %s: %v", receiptID, err)
	} else {
		pdfObjectKey = &objectName
	}

	msg := &EmailMessage{
		To:       params.DonorEmail,
		ToName:   params.DonorName,
		Subject:  fmt.Sprintf("Your donation receipt from %s", params.OrganizationName),
		TextBody: textBody,
		HTMLBody: htmlBody,
		Attachments: []EmailAttachment{
			{
				Filename:    fmt.Sprintf("receipt-%s.pdf", receiptID),
				ContentType: "application/pdf",
				Content:     pdfBytes,
			},
		},
	}

	if err := s.emailSvc.Send(ctx, msg); err != nil {
		if logErr := s.receiptRepo.MarkFailed(ctx, receiptID, err.Error()); logErr != nil {
			log.Printf("WARN: failed to record receipt failure %s: %v", receiptID, logErr)
		}
		return &ReceiptResult{
			ReceiptID: receiptID,
			Delivered: false,
			Error:     err.Error(),
		}, nil
	}

	if err := s.receiptRepo.MarkSent(ctx, receiptID, pdfObjectKey); err != nil {
		log.Printf("WARN: failed to record receipt delivery %s: %v", receiptID, err)
	}
	return &ReceiptResult{ReceiptID: receiptID, Delivered: true}, nil
}

func (s *receiptService) GetStatus(ctx context.Context, receiptID string) (*ReceiptStatus, error) {
	receipt, err := s.receiptRepo.GetByID(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	status := &ReceiptStatus{Receipt: receipt}
	if receipt.PDFObjectKey != nil {
		url, urlErr := s.minioSvc.GetPresignedURL(s.bucketName, *receipt.PDFObjectKey, 24*time.Hour)
		if urlErr != nil {
			log.Printf("WARN: presigned URL for receipt %s: %v", receiptID, urlErr)
		} else {
			status.PDFURL = url
		}
	}
	return status, nil
}

func renderTemplate(tmpl *template.Template, data receiptTemplateData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderReceiptPDF(receiptID string, data receiptTemplateData) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	marginX := 20.0
	marginY := 20.0
	pdf.SetMargins(marginX, marginY, marginX)
	pdf.SetAutoPageBreak(true, marginY)

	pdf.SetFont("Arial", "B", 16)
	pdf.SetTextColor(33, 37, 41)
	pdf.SetXY(marginX, marginY)
	pdf.Cell(0, 10, "DONATION RECEIPT")
	pdf.Ln(15)

	pdf.SetFont("Arial", "", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Receipt Number: %s", receiptID))
	pdf.Ln(8)
	pdf.Cell(0, 8, fmt.Sprintf("Organization: %s", data.OrganizationName))
	pdf.Ln(8)
	pdf.Cell(0, 8, fmt.Sprintf("Donor: %s", data.DonorName))
	pdf.Ln(8)
	pdf.Cell(0, 8, fmt.Sprintf("Date: %s", data.Date))
	pdf.Ln(8)
	if data.TaxID != "" {
		pdf.Cell(0, 8, fmt.Sprintf("Tax ID: %s", data.TaxID))
		pdf.Ln(8)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 10, fmt.Sprintf("Amount: $%s", data.AmountDollars))
	pdf.Ln(16)

	pdf.SetFont("Arial", "I", 10)
	pdf.MultiCell(0, 5, "No goods or services were provided in exchange for this contribution. Please retain this receipt for your tax records.", "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
