package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mitantsoa1/gns-preprod/repository"
	"github.com/mitantsoa1/gns-preprod/services"
)

// AdminPaymentController exposes the full payment ledger to administrators.
type AdminPaymentController struct {
	payments services.PaymentAdminService
	now      func() time.Time
}

func NewAdminPaymentController(payments services.PaymentAdminService) *AdminPaymentController {
	return &AdminPaymentController{payments: payments, now: time.Now}
}

// ListPayments handles GET /admin/payments?page=&limit=&status=.
func (ac *AdminPaymentController) ListPayments(ctx *gin.Context) {
	resp, svcErr := ac.payments.List(ctx.Request.Context(), paymentFilter(ctx))
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

// ExportPayments handles GET /admin/payments/export?status=.
func (ac *AdminPaymentController) ExportPayments(ctx *gin.Context) {
	f := paymentFilter(ctx)
	buf, svcErr := ac.payments.Export(ctx.Request.Context(), repository.PaymentFilter{Status: f.Status, UserID: f.UserID})
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	name := services.ExportFilename(ac.now())
	ctx.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	ctx.Data(http.StatusOK, services.XLSXContentType, buf.Bytes())
}

// ArchiveExport handles POST /admin/payments/export/archive?status=.
func (ac *AdminPaymentController) ArchiveExport(ctx *gin.Context) {
	f := paymentFilter(ctx)
	archive, svcErr := ac.payments.Archive(ctx.Request.Context(), repository.PaymentFilter{Status: f.Status, UserID: f.UserID})
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"archive": archive})
}
