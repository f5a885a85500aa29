package services

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"shulpad/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type MockReceiptLogRepository struct {
	mock.Mock
}

func (m *MockReceiptLogRepository) Create(ctx context.Context, receipt *models.ReceiptLog) error {
	args := m.Called(ctx, receipt)
	return args.Error(0)
}

func (m *MockReceiptLogRepository) MarkSent(ctx context.Context, id string, pdfObjectKey *string) error {
	args := m.Called(ctx, id, pdfObjectKey)
	return args.Error(0)
}

func (m *MockReceiptLogRepository) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	args := m.Called(ctx, id, errorMessage)
	return args.Error(0)
}

func (m *MockReceiptLogRepository) GetByID(ctx context.Context, id string) (*models.ReceiptLog, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ReceiptLog), args.Error(1)
}

type MockEmailService struct {
	mock.Mock
}

func (m *MockEmailService) Configured() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockEmailService) Send(ctx context.Context, msg *EmailMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type MockMinioService struct {
	mock.Mock
}

func (m *MockMinioService) UploadPDF(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64) error {
	args := m.Called(ctx, bucketName, objectName, reader, objectSize)
	return args.Error(0)
}

func (m *MockMinioService) GetPresignedURL(bucketName, objectName string, expiry time.Duration) (string, error) {
	args := m.Called(bucketName, objectName, expiry)
	return args.String(0), args.Error(1)
}

func (m *MockMinioService) EnsureBucketExists(ctx context.Context, bucketName string) error {
	args := m.Called(ctx, bucketName)
	return args.Error(0)
}

type ReceiptServiceTestSuite struct {
	suite.Suite
	receiptRepo *MockReceiptLogRepository
	emailSvc    *MockEmailService
	minioSvc    *MockMinioService
	cacheSvc    *MockCacheService
	service     ReceiptService
	params      *SendReceiptParams
}

func (s *ReceiptServiceTestSuite) SetupTest() {
	s.receiptRepo = new(MockReceiptLogRepository)
	s.emailSvc = new(MockEmailService)
	s.minioSvc = new(MockMinioService)
	s.cacheSvc = new(MockCacheService)
	s.service = NewReceiptService(s.receiptRepo, s.emailSvc, s.minioSvc, s.cacheSvc, "shulpad-receipts")
	s.params = &SendReceiptParams{
		OrganizationID:   "ORG1",
		OrganizationName: "Congregation Test",
		DonorEmail:       "donor@example.com",
		DonorName:        "Test Donor",
		AmountCents:      1800,
		DonationDate:     time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
		TaxID:            "12-3456789",
	}
}

func TestReceiptServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ReceiptServiceTestSuite))
}

func (s *ReceiptServiceTestSuite) TestSendDeliversEmailWithPDF() {
	s.cacheSvc.On("IsRateLimited", mock.Anything, "receipts:ORG1", 10, 60*time.Second).
		Return(false, time.Duration(0), nil)
	s.receiptRepo.On("Create", mock.Anything, mock.MatchedBy(func(r *models.ReceiptLog) bool {
		return r.OrganizationID == "ORG1" && r.AmountCents == 1800 && r.DeliveryStatus == models.DeliveryStatusPending
	})).Return(nil)
	s.minioSvc.On("UploadPDF", mock.Anything, "shulpad-receipts", mock.Anything, mock.Anything, mock.Anything).
		Return(nil)
	s.emailSvc.On("Send", mock.Anything, mock.MatchedBy(func(msg *EmailMessage) bool {
		return msg.To == "donor@example.com" &&
			len(msg.Attachments) == 1 &&
			msg.Attachments[0].ContentType == "application/pdf" &&
			len(msg.Attachments[0].Content) > 0
	})).Return(nil)
	s.receiptRepo.On("MarkSent", mock.Anything, mock.Anything, mock.MatchedBy(func(key *string) bool {
		return key != nil
	})).Return(nil)

	result, err := s.service.Send(context.Background(), s.params)

	s.Require().NoError(err)
	s.True(result.Delivered)
	s.NotEmpty(result.ReceiptID)
	s.receiptRepo.AssertExpectations(s.T())
	s.emailSvc.AssertExpectations(s.T())
}

func (s *ReceiptServiceTestSuite) TestSendReturnsRateLimitError() {
	s.cacheSvc.On("IsRateLimited", mock.Anything, "receipts:ORG1", 10, 60*time.Second).
		Return(true, 42*time.Second, nil)

	result, err := s.service.Send(context.Background(), s.params)

	s.Nil(result)
	var limited *ErrReceiptRateLimited
	s.Require().ErrorAs(err, &limited)
	s.Equal(42*time.Second, limited.RetryAfter)
	s.receiptRepo.AssertNotCalled(s.T(), "Create", mock.Anything, mock.Anything)
	s.emailSvc.AssertNotCalled(s.T(), "Send", mock.Anything, mock.Anything)
}

func (s *ReceiptServiceTestSuite) TestSendProceedsWhenLimiterDown() {
	s.cacheSvc.On("IsRateLimited", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(false, time.Duration(0), errors.New("redis: connection refused"))
	s.receiptRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	s.minioSvc.On("UploadPDF", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	s.emailSvc.On("Send", mock.Anything, mock.Anything).Return(nil)
	s.receiptRepo.On("MarkSent", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := s.service.Send(context.Background(), s.params)

	s.Require().NoError(err)
	s.True(result.Delivered)
}

func (s *ReceiptServiceTestSuite) TestSendRecordsDeliveryFailure() {
	s.cacheSvc.On("IsRateLimited", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(false, time.Duration(0), nil)
	s.receiptRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	s.minioSvc.On("UploadPDF", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	s.emailSvc.On("Send", mock.Anything, mock.Anything).Return(errors.New("sendgrid returned 503"))
	s.receiptRepo.On("MarkFailed", mock.Anything, mock.Anything, "sendgrid returned 503").Return(nil)

	result, err := s.service.Send(context.Background(), s.params)

	s.Require().NoError(err)
	s.False(result.Delivered)
	s.Equal("sendgrid returned 503", result.Error)
	s.NotEmpty(result.ReceiptID)
	s.receiptRepo.AssertExpectations(s.T())
	s.receiptRepo.AssertNotCalled(s.T(), "MarkSent", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ReceiptServiceTestSuite) TestGetStatusIncludesDownloadURL() {
	objectKey := "ORG1/receipt-1.pdf"
	s.receiptRepo.On("GetByID", mock.Anything, "receipt-1").Return(&models.ReceiptLog{
		OrganizationID: "ORG1",
		DeliveryStatus: models.DeliveryStatusSent,
		PDFObjectKey:   &objectKey,
	}, nil)
	s.minioSvc.On("GetPresignedURL", "shulpad-receipts", objectKey, 24*time.Hour).
		Return("https://minio.local/presigned/receipt-1.pdf", nil)

	status, err := s.service.GetStatus(context.Background(), "receipt-1")

	s.Require().NoError(err)
	s.Equal("https://minio.local/presigned/receipt-1.pdf", status.PDFURL)
	s.Equal(models.DeliveryStatusSent, status.Receipt.DeliveryStatus)
}

func (s *ReceiptServiceTestSuite) TestGetStatusWithoutArchivedPDF() {
	s.receiptRepo.On("GetByID", mock.Anything, "receipt-2").Return(&models.ReceiptLog{
		OrganizationID: "ORG1",
		DeliveryStatus: models.DeliveryStatusFailed,
	}, nil)

	status, err := s.service.GetStatus(context.Background(), "receipt-2")

	s.Require().NoError(err)
	s.Empty(status.PDFURL)
	s.minioSvc.AssertNotCalled(s.T(), "GetPresignedURL", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ReceiptServiceTestSuite) TestSendArchivesEvenWhenStorageDown() {
	s.cacheSvc.On("IsRateLimited", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(false, time.Duration(0), nil)
	s.receiptRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	s.minioSvc.On("UploadPDF", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("minio unreachable"))
	s.emailSvc.On("Send", mock.Anything, mock.Anything).Return(nil)
	s.receiptRepo.On("MarkSent", mock.Anything, mock.Anything, (*string)(nil)).Return(nil)

	result, err := s.service.Send(context.Background(), s.params)

	s.Require().NoError(err)
	s.True(result.Delivered)
	s.receiptRepo.AssertExpectations(s.T())
}
