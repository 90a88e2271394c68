package services

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/mitantsoa1/gns-preprod/models"
	"github.com/mitantsoa1/gns-preprod/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	exportBatch     = 500
	exportSheet     = "Payments"
)

var exportHeader = []interface{}{
	"ID", "Created", "Status", "Amount", "Refunded", "Currency", "Product", "Quantity",
	"Customer", "Email", "Method", "Checkout session", "Payment intent", "Charge",
}

// XLSXContentType is the media type of exported workbooks.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportStore is satisfied by *awspkg.S3Archive.
type ExportStore interface {
	Store(ctx context.Context, key, contentType string, body []byte) (url string, expiresAt time.Time, err error)
}

// PaymentAdminService lists and exports the whole payment ledger.
type PaymentAdminService interface {
	List(ctx context.Context, f repository.PaymentFilter) (*models.PaymentListResponse, *ServiceError)
	Export(ctx context.Context, f repository.PaymentFilter) (*bytes.Buffer, *ServiceError)
	// Archive stores an export and returns a temporary download link.
	Archive(ctx context.Context, f repository.PaymentFilter) (*models.ExportArchive, *ServiceError)
}

type paymentAdminServiceImpl struct {
	payments repository.PaymentRepository
	store    ExportStore
	now      func() time.Time
	logger   *zap.Logger
}

// NewPaymentAdminService creates a PaymentAdminService. store may be nil, in
// which case Archive is unavailable.
func NewPaymentAdminService(payments repository.PaymentRepository, store ExportStore, logger *zap.Logger) PaymentAdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &paymentAdminServiceImpl{payments: payments, store: store, now: time.Now, logger: logger}
}

func normalizeFilter(f repository.PaymentFilter) (repository.PaymentFilter, *ServiceError) {
	if f.Status != "" && !models.PaymentStatus(f.Status).Valid() {
		return f, errBadRequest("Invalid status filter")
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	return f, nil
}

func (s *paymentAdminServiceImpl) List(ctx context.Context, f repository.PaymentFilter) (*models.PaymentListResponse, *ServiceError) {
	f, svcErr := normalizeFilter(f)
	if svcErr != nil {
		return nil, svcErr
	}
	payments, total, err := s.payments.List(ctx, f)
	if err != nil {
		s.logger.Error("failed to list payments", zap.Error(err))
		return nil, errInternal("Failed to list payments")
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	return &models.PaymentListResponse{Payments: payments, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// Export writes every payment matching f, newest first, to an XLSX workbook.
func (s *paymentAdminServiceImpl) Export(ctx context.Context, f repository.PaymentFilter) (*bytes.Buffer, *ServiceError) {
	if f.Status != "" && !models.PaymentStatus(f.Status).Valid() {
		return nil, errBadRequest("Invalid status filter")
	}

	book := excelize.NewFile()
	defer book.Close()
	if err := book.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, s.exportFailed(err)
	}
	if err := book.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return nil, s.exportFailed(err)
	}

	row := 2
	f.Limit = exportBatch
	for f.Page = 1; ; f.Page++ {
		batch, total, err := s.payments.List(ctx, f)
		if err != nil {
			return nil, s.exportFailed(err)
		}
		for i := range batch {
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return nil, s.exportFailed(err)
			}
			values := exportRow(&batch[i])
			if err := book.SetSheetRow(exportSheet, cell, &values); err != nil {
				return nil, s.exportFailed(err)
			}
			row++
		}
		if len(batch) < exportBatch || int64(f.Page*exportBatch) >= total {
			break
		}
	}

	buf, err := book.WriteToBuffer()
	if err != nil {
		return nil, s.exportFailed(err)
	}
	s.logger.Info("payments exported", zap.Int("rows", row-2))
	return buf, nil
}

func (s *paymentAdminServiceImpl) Archive(ctx context.Context, f repository.PaymentFilter) (*models.ExportArchive, *ServiceError) {
	if s.store == nil {
		return nil, &ServiceError{StatusCode: http.StatusNotImplemented, Message: "Export archive is not configured"}
	}
	buf, svcErr := s.Export(ctx, f)
	if svcErr != nil {
		return nil, svcErr
	}
	key := ExportKey(s.now())
	url, expires, err := s.store.Store(ctx, key, XLSXContentType, buf.Bytes())
	if err != nil {
		s.logger.Error("export archive upload failed", zap.String("key", key), zap.Error(err))
		return nil, errInternal("Failed to archive export")
	}
	s.logger.Info("payments export archived", zap.String("key", key))
	return &models.ExportArchive{Key: key, URL: url, ExpiresAt: expires.UTC()}, nil
}

// ExportKey names an export taken at t.
func ExportKey(t time.Time) string {
	return "exports/" + ExportFilename(t)
}

func ExportFilename(t time.Time) string {
	return "payments-" + t.UTC().Format("20060102-150405") + ".xlsx"
}

func (s *paymentAdminServiceImpl) exportFailed(err error) *ServiceError {
	s.logger.Error("payment export failed", zap.Error(err))
	return errInternal("Failed to export payments")
}

func exportRow(p *models.Payment) []interface{} {
	return []interface{}{
		p.ID.String(),
		p.CreatedAt.UTC().Format(time.RFC3339),
		string(p.Status),
		formatMinorPlain(p.Amount),
		formatMinorPlain(p.AmountRefunded),
		p.Currency,
		p.ProductName,
		p.Quantity,
		p.CustomerName,
		p.CustomerEmail,
		p.PaymentMethod,
		deref(p.StripeCheckoutSessionID),
		deref(p.StripePaymentIntentID),
		deref(p.StripeChargeID),
	}
}

func formatMinorPlain(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
